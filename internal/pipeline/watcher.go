package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perpwatch/engine/internal/domain"
	"github.com/perpwatch/engine/internal/platform/indexer"
)

// Watcher incrementally polls fills for leaderboard members. It owns the
// per-account cursor map; deduplication is delegated to a SeenFills filter
// so the at-most-once emit guarantee survives overlapping fetch windows and
// is shared with the live feed path.
type Watcher struct {
	source   FillSource
	seen     domain.SeenFills
	maxFills int
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastCheck map[domain.AccountKey]time.Time
}

// NewWatcher creates a Watcher. maxFills caps the fills fetched per account
// per cycle; 0 means no cap beyond the source's own page budget.
func NewWatcher(source FillSource, seen domain.SeenFills, maxFills int, logger *slog.Logger) *Watcher {
	return &Watcher{
		source:    source,
		seen:      seen,
		maxFills:  maxFills,
		logger:    logger.With(slog.String("component", "watcher")),
		now:       func() time.Time { return time.Now().UTC() },
		lastCheck: make(map[domain.AccountKey]time.Time),
	}
}

// WatchOnce runs a single watch cycle over the given leaderboard members
// and returns the fill events emitted this cycle. For each member the
// cursor is the last successful check, or the member's leaderboard
// observation time on first appearance, so fills from before a trader made
// the leaderboard are never surfaced. The cursor only advances after a
// successful pass, so a failed fetch is retried over the same window next
// cycle; the dedup filter keeps the retry from re-emitting.
func (w *Watcher) WatchOnce(ctx context.Context, members []domain.TopTrader, listener domain.FillListener) []domain.FillEvent {
	var events []domain.FillEvent

	for _, member := range members {
		if ctx.Err() != nil {
			w.logger.Warn("watch cycle cancelled",
				slog.Int("events_so_far", len(events)),
			)
			break
		}

		acct := member.Account()
		cursor := w.cursorFor(acct, member.ObservedAt)

		fills, err := w.source.FetchFills(ctx, indexer.FillQuery{
			Address:          acct.Address,
			Subaccount:       acct.Subaccount,
			CreatedOnOrAfter: cursor,
			MaxResults:       w.maxFills,
		})
		if err != nil {
			w.logger.Warn("skipping account this cycle: fill fetch failed",
				slog.String("account", acct.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, fill := range fills {
			if event, ok := w.emit(ctx, acct, fill, listener); ok {
				events = append(events, event)
			}
		}

		// Advance to wall-clock now, not the newest fill timestamp: a slow
		// cycle must not re-request an interval it already covered.
		w.setCursor(acct, w.now())
	}

	w.logger.Info("watch cycle complete",
		slog.Int("members", len(members)),
		slog.Int("events", len(events)),
	)
	return events
}

// HandleLiveFill routes a fill from the websocket feed through the same
// dedup filter and listener as the polling path.
func (w *Watcher) HandleLiveFill(ctx context.Context, acct domain.AccountKey, fill domain.Fill, listener domain.FillListener) {
	w.emit(ctx, acct, fill, listener)
}

// emit deduplicates the fill and, on first sight, constructs a FillEvent
// and invokes the listener synchronously.
func (w *Watcher) emit(ctx context.Context, acct domain.AccountKey, fill domain.Fill, listener domain.FillListener) (domain.FillEvent, bool) {
	fillID := fill.ID
	if fillID == "" {
		// Synthetic identity for indexer records that omit an id.
		fillID = fmt.Sprintf("%s-%s", fill.CreatedAt.UTC().Format(time.RFC3339Nano), fill.Ticker)
	}

	first, err := w.seen.MarkSeen(ctx, acct, fillID)
	if err != nil {
		// When the filter cannot answer, suppress the emit: at-most-once
		// beats duplicate alerts.
		w.logger.Warn("dedup filter unavailable, suppressing fill",
			slog.String("account", acct.String()),
			slog.String("fill_id", fillID),
			slog.String("error", err.Error()),
		)
		return domain.FillEvent{}, false
	}
	if !first {
		return domain.FillEvent{}, false
	}

	event := domain.FillEvent{
		FillID:           fillID,
		AccountAddress:   acct.Address,
		SubaccountNumber: acct.Subaccount,
		Ticker:           fill.Ticker,
		Side:             fill.Side,
		Price:            fill.Price,
		Size:             fill.Size,
		Fee:              fill.Fee,
		RealizedPnl:      fill.RealizedPnl,
		EffectiveAt:      fill.EffectiveAt,
		CreatedAt:        fill.CreatedAt,
		ObservedAt:       w.now(),
	}
	if listener != nil {
		listener.OnFillEvent(ctx, event)
	}
	return event, true
}

func (w *Watcher) cursorFor(acct domain.AccountKey, observedAt time.Time) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ts, ok := w.lastCheck[acct]; ok {
		return ts
	}
	return observedAt
}

func (w *Watcher) setCursor(acct domain.AccountKey, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastCheck[acct] = ts
}
