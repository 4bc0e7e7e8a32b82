// Package pipeline implements the trader discovery, scoring, and
// activity-watch pipeline: candidate aggregation from recent fills, weighted
// PnL ranking, and incremental fill polling for leaderboard members.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/perpwatch/engine/internal/domain"
	"github.com/perpwatch/engine/internal/platform/indexer"
)

// FillSource is the slice of the indexer client the pipeline depends on.
type FillSource interface {
	FetchFills(ctx context.Context, q indexer.FillQuery) ([]domain.Fill, error)
	FetchPnlSnapshots(ctx context.Context, q indexer.PnlQuery) ([]domain.PnlSnapshot, error)
}

// DiscoverParams selects the seed set and activity thresholds for one
// discovery run. LookbackHours == 0 means no lower time bound.
type DiscoverParams struct {
	Seeds         []domain.AccountKey
	Tickers       []string
	LookbackHours int
	MinFills      int
	MinVolume     float64
}

// Discoverer aggregates recent fills for a seed set of accounts into
// per-account activity summaries. It can only examine accounts it is told
// about: there is no exchange-wide "all traders" endpoint, so the seed set
// is the caller's knowledge plus previously discovered leaderboard members.
type Discoverer struct {
	source FillSource
	logger *slog.Logger
}

// NewDiscoverer creates a Discoverer over the given fill source.
func NewDiscoverer(source FillSource, logger *slog.Logger) *Discoverer {
	return &Discoverer{
		source: source,
		logger: logger.With(slog.String("component", "discovery")),
	}
}

// Discover aggregates fills per seed account and returns the candidates
// that satisfy the minimum activity thresholds. Accounts whose fetches fail
// are logged and skipped; a single bad account never aborts the run. Output
// order is unspecified.
func (d *Discoverer) Discover(ctx context.Context, p DiscoverParams) []domain.TraderCandidate {
	var since time.Time
	if p.LookbackHours > 0 {
		since = time.Now().UTC().Add(-time.Duration(p.LookbackHours) * time.Hour)
	}

	candidates := make([]domain.TraderCandidate, 0, len(p.Seeds))
	for _, seed := range p.Seeds {
		if ctx.Err() != nil {
			d.logger.Warn("discovery cancelled mid-run",
				slog.Int("candidates_so_far", len(candidates)),
			)
			break
		}

		fills, err := d.fetchAccountFills(ctx, seed, p.Tickers, since)
		if err != nil {
			d.logger.Warn("skipping account: fill fetch failed",
				slog.String("account", seed.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(fills) == 0 {
			continue
		}

		cand := summarize(seed, fills)
		if cand.FillCount < p.MinFills || cand.TotalVolume < p.MinVolume {
			continue
		}
		candidates = append(candidates, cand)
	}

	d.logger.Info("discovery run complete",
		slog.Int("seeds", len(p.Seeds)),
		slog.Int("candidates", len(candidates)),
	)
	return candidates
}

// fetchAccountFills queries the account once across all markets, falling
// back to per-ticker queries when the unfiltered call returns nothing.
func (d *Discoverer) fetchAccountFills(ctx context.Context, acct domain.AccountKey, tickers []string, since time.Time) ([]domain.Fill, error) {
	fills, err := d.source.FetchFills(ctx, indexer.FillQuery{
		Address:          acct.Address,
		Subaccount:       acct.Subaccount,
		CreatedOnOrAfter: since,
	})
	if err != nil {
		return nil, err
	}
	if len(fills) > 0 {
		return fills, nil
	}

	// Some indexer deployments only answer market-scoped fill queries.
	var all []domain.Fill
	for _, ticker := range tickers {
		perTicker, err := d.source.FetchFills(ctx, indexer.FillQuery{
			Address:          acct.Address,
			Subaccount:       acct.Subaccount,
			Ticker:           ticker,
			CreatedOnOrAfter: since,
		})
		if err != nil {
			d.logger.Warn("per-ticker fallback failed",
				slog.String("account", acct.String()),
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		all = append(all, perTicker...)
	}
	return all, nil
}

// summarize folds a fill list into a candidate's activity aggregates.
func summarize(acct domain.AccountKey, fills []domain.Fill) domain.TraderCandidate {
	cand := domain.TraderCandidate{
		AccountAddress:   acct.Address,
		SubaccountNumber: acct.Subaccount,
	}
	for _, f := range fills {
		cand.FillCount++
		cand.TotalVolume += f.Notional()
		if cand.FirstSeenAt.IsZero() || f.CreatedAt.Before(cand.FirstSeenAt) {
			cand.FirstSeenAt = f.CreatedAt
		}
		if f.CreatedAt.After(cand.LastSeenAt) {
			cand.LastSeenAt = f.CreatedAt
		}
	}
	return cand
}
