package alerting

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/perpwatch/engine/internal/domain"
)

// spikeHighMultiple is the observed volume multiple at which a spike alert
// escalates from medium to high.
const spikeHighMultiple = 5.0

// Thresholds are the classifier's tunables.
type Thresholds struct {
	// LargeTrade* map fill notional to alert severities; a fill below
	// LargeTradeMedium produces no large-trade alert.
	LargeTradeMedium   float64
	LargeTradeHigh     float64
	LargeTradeCritical float64
	// SpikeMultiplier triggers a volume-spike alert when a fill's notional
	// reaches this multiple of the account's rolling average.
	SpikeMultiplier float64
	SpikeWindow     time.Duration
	// MinSpikeSamples is the minimum rolling-window population before spike
	// detection activates. The default of 1 lets any non-empty baseline
	// trigger; raise it to demand a denser window.
	MinSpikeSamples int
}

// DefaultThresholds returns the standard classifier tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeTradeMedium:   10_000,
		LargeTradeHigh:     50_000,
		LargeTradeCritical: 100_000,
		SpikeMultiplier:    3.0,
		SpikeWindow:        time.Hour,
		MinSpikeSamples:    1,
	}
}

// Classifier turns fill events into at most one alert each, keeping a
// rolling per-account volume window for spike detection.
type Classifier struct {
	th      Thresholds
	tracker *VolumeTracker
	logger  *slog.Logger
}

// NewClassifier creates a Classifier with the given thresholds.
func NewClassifier(th Thresholds, logger *slog.Logger) *Classifier {
	return &Classifier{
		th:      th,
		tracker: NewVolumeTracker(th.SpikeWindow),
		logger:  logger.With(slog.String("component", "classifier")),
	}
}

// Classify evaluates every check against the event and returns the single
// highest-severity alert, or nil when nothing fires. Ties resolve to the
// check that ran first (large trade, then volume spike, then position
// change). rank is the account's leaderboard rank when known.
func (c *Classifier) Classify(event domain.FillEvent, rank *int) *domain.TopTraderAlert {
	acct := event.Account()
	volume := event.VolumeUSD()

	// Spike detection compares against the window as it stood before this
	// fill; the fill joins the baseline afterwards either way.
	avg, samples := c.tracker.Average(acct)
	c.tracker.Track(acct, volume, event.CreatedAt)

	candidates := []*domain.TopTraderAlert{
		c.checkLargeTrade(event, volume),
		c.checkVolumeSpike(event, volume, avg, samples),
		c.checkPositionChange(event),
	}

	var best *domain.TopTraderAlert
	for _, alert := range candidates {
		if alert == nil {
			continue
		}
		if best == nil || alert.Severity.Exceeds(best.Severity) {
			best = alert
		}
	}
	if best == nil {
		return nil
	}

	best.ID = uuid.New().String()
	best.FillID = event.FillID
	best.AccountAddress = event.AccountAddress
	best.SubaccountNumber = event.SubaccountNumber
	best.Rank = rank
	best.CreatedAt = time.Now().UTC()

	c.logger.Info("alert classified",
		slog.String("type", string(best.Type)),
		slog.String("severity", string(best.Severity)),
		slog.String("account", acct.String()),
		slog.Float64("volume_usd", volume),
	)
	return best
}

// checkLargeTrade maps the fill's notional onto the tiered thresholds.
func (c *Classifier) checkLargeTrade(event domain.FillEvent, volume float64) *domain.TopTraderAlert {
	var (
		severity  domain.AlertSeverity
		threshold float64
	)
	switch {
	case volume >= c.th.LargeTradeCritical:
		severity, threshold = domain.SeverityCritical, c.th.LargeTradeCritical
	case volume >= c.th.LargeTradeHigh:
		severity, threshold = domain.SeverityHigh, c.th.LargeTradeHigh
	case volume >= c.th.LargeTradeMedium:
		severity, threshold = domain.SeverityMedium, c.th.LargeTradeMedium
	default:
		return nil
	}

	return &domain.TopTraderAlert{
		Type:           domain.AlertLargeTrade,
		Severity:       severity,
		Message:        fmt.Sprintf("%s %s %s for $%.0f", event.AccountAddress, event.Side, event.Ticker, volume),
		ThresholdValue: threshold,
		ActualValue:    volume,
		Metadata: map[string]string{
			"ticker": event.Ticker,
			"side":   string(event.Side),
			"price":  strconv.FormatFloat(event.Price, 'f', -1, 64),
			"size":   strconv.FormatFloat(event.Size, 'f', -1, 64),
		},
	}
}

// checkVolumeSpike compares the fill's notional against the account's
// rolling average prior to this fill.
func (c *Classifier) checkVolumeSpike(event domain.FillEvent, volume, avg float64, samples int) *domain.TopTraderAlert {
	if samples < c.th.MinSpikeSamples || avg <= 0 {
		return nil
	}
	if volume < c.th.SpikeMultiplier*avg {
		return nil
	}

	multiple := volume / avg
	severity := domain.SeverityMedium
	if multiple >= spikeHighMultiple {
		severity = domain.SeverityHigh
	}

	windowHours := c.th.SpikeWindow.Hours()
	return &domain.TopTraderAlert{
		Type:           domain.AlertVolumeSpike,
		Severity:       severity,
		Message:        fmt.Sprintf("%s traded %.1fx its %.0fh average volume on %s", event.AccountAddress, multiple, windowHours, event.Ticker),
		ThresholdValue: c.th.SpikeMultiplier * avg,
		ActualValue:    volume,
		WindowHours:    &windowHours,
		Metadata: map[string]string{
			"ticker":       event.Ticker,
			"avg_volume":   strconv.FormatFloat(avg, 'f', 2, 64),
			"multiple":     strconv.FormatFloat(multiple, 'f', 2, 64),
			"window_fills": strconv.Itoa(samples),
		},
	}
}

// checkPositionChange never fires. Detecting position flips needs per
// account net-position tracking that fills alone do not carry.
// TODO: derive net position from the indexer's perpetualPositions endpoint
// and alert on direction flips.
func (c *Classifier) checkPositionChange(_ domain.FillEvent) *domain.TopTraderAlert {
	return nil
}
