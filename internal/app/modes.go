package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perpwatch/engine/internal/alerting"
	"github.com/perpwatch/engine/internal/domain"
	"github.com/perpwatch/engine/internal/pipeline"
	"github.com/perpwatch/engine/internal/platform/indexer"
	"github.com/perpwatch/engine/internal/service"
)

// components bundles the pipeline objects shared by the operating modes.
type components struct {
	orch        *pipeline.Orchestrator
	watcher     *pipeline.Watcher
	leaderboard *service.LeaderboardService
	alerts      *service.AlertService
}

// buildComponents wires the indexer client, pipeline stages, and services on
// top of the infrastructure dependencies.
func (a *App) buildComponents(deps *Dependencies) *components {
	client := indexer.NewClient(indexer.ClientConfig{
		RestURL:        a.cfg.Indexer.RestURL,
		Timeout:        a.cfg.Indexer.Timeout.Duration,
		PageLimit:      a.cfg.Indexer.PageLimit,
		MaxPages:       a.cfg.Indexer.MaxPages,
		RatePerSecond:  a.cfg.Indexer.RatePerSecond,
		RetryAttempts:  a.cfg.Indexer.RetryAttempts,
		RetryBaseDelay: a.cfg.Indexer.RetryBaseDelay.Duration,
	}, deps.RateLimiter)

	leaderboardSvc := service.NewLeaderboardService(deps.LeaderboardStore, a.logger)

	classifier := alerting.NewClassifier(alerting.Thresholds{
		LargeTradeMedium:   a.cfg.Alerts.LargeTradeMedium,
		LargeTradeHigh:     a.cfg.Alerts.LargeTradeHigh,
		LargeTradeCritical: a.cfg.Alerts.LargeTradeCritical,
		SpikeMultiplier:    a.cfg.Alerts.SpikeMultiplier,
		SpikeWindow:        a.cfg.Alerts.SpikeWindow.Duration,
		MinSpikeSamples:    a.cfg.Alerts.MinSpikeSamples,
	}, a.logger)
	alertSvc := service.NewAlertService(
		classifier, deps.AlertStore, deps.Notifier, deps.EventBus, leaderboardSvc, a.logger,
	)

	discoverer := pipeline.NewDiscoverer(client, a.logger)
	scorer := pipeline.NewScorer(client, a.scoreWeights(), a.logger)
	watcher := pipeline.NewWatcher(client, deps.SeenFills, a.cfg.Watcher.MaxFillsPoll, a.logger)

	orch := pipeline.NewOrchestrator(
		discoverer, scorer, watcher, leaderboardSvc,
		deps.LockManager, a.cfg.Watcher.LockTTL.Duration, a.logger,
	)

	return &components{
		orch:        orch,
		watcher:     watcher,
		leaderboard: leaderboardSvc,
		alerts:      alertSvc,
	}
}

// scoreWeights returns the configured score weights, or the defaults when no
// weight is set.
func (a *App) scoreWeights() domain.ScoreWeights {
	s := a.cfg.Scoring
	if s.WeightRealized == 0 && s.WeightNet == 0 && s.WeightFills == 0 && s.WeightTurnover == 0 {
		return domain.DefaultScoreWeights()
	}
	return domain.ScoreWeights{
		RealizedPnl: s.WeightRealized,
		NetPnl:      s.WeightNet,
		FillCount:   s.WeightFills,
		Turnover:    s.WeightTurnover,
	}
}

func (a *App) updateParams() pipeline.UpdateParams {
	return pipeline.UpdateParams{
		Tickers:       a.cfg.Discovery.Tickers,
		TopN:          a.cfg.Leaderboard.TopN,
		LookbackHours: a.cfg.Discovery.LookbackHours,
		WindowHours:   a.cfg.Scoring.WindowHours,
		MinFills:      a.cfg.Discovery.MinFills,
		MinVolume:     a.cfg.Discovery.MinVolume,
		SeedAddresses: a.cfg.Discovery.SeedAddresses,
		MaxSeeds:      a.cfg.Discovery.MaxSeeds,
	}
}

func (a *App) runConfig(c *components) pipeline.RunConfig {
	return pipeline.RunConfig{
		Params:         a.updateParams(),
		UpdateInterval: a.cfg.Leaderboard.UpdateInterval.Duration,
		WatchInterval:  a.cfg.Watcher.Interval.Duration,
		Listener:       c.alerts,
	}
}

// UpdateMode runs a single discovery, scoring, and ranking pass and exits.
func (a *App) UpdateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting update mode")

	c := a.buildComponents(deps)
	entries := c.orch.UpdateLeaderboard(ctx, a.updateParams())

	a.logger.InfoContext(ctx, "update complete", slog.Int("entries", len(entries)))
	return ctx.Err()
}

// WatchMode polls the persisted leaderboard members for new fills on the
// watch interval until cancelled. No ranking updates run.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Duration("interval", a.cfg.Watcher.Interval.Duration),
	)

	c := a.buildComponents(deps)
	return c.orch.WatchLoop(ctx, a.runConfig(c))
}

// StreamMode subscribes to the indexer websocket for the current leaderboard
// members and routes live fills through the same dedup filter and alert
// classification as polling.
func (a *App) StreamMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting stream mode")

	c := a.buildComponents(deps)

	members, err := c.leaderboard.TopTraders(ctx, a.cfg.Leaderboard.TopN)
	if err != nil {
		return fmt.Errorf("stream mode: load leaderboard: %w", err)
	}
	if len(members) == 0 {
		return fmt.Errorf("stream mode: leaderboard is empty, run update mode first")
	}

	accounts := make([]domain.AccountKey, len(members))
	for i, m := range members {
		accounts[i] = m.Account()
	}

	feed := indexer.NewStreamFeed(a.cfg.Indexer.WsURL, accounts,
		func(ctx context.Context, acct domain.AccountKey, fill domain.Fill) {
			c.watcher.HandleLiveFill(ctx, acct, fill, c.alerts)
		},
		a.logger,
	)
	defer feed.Close()
	return feed.Run(ctx)
}

// ArchiveMode runs a single cold-storage archival pass over rows older than
// the retention window and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not configured")
	}
	return a.archiveOnce(ctx, deps)
}

// FullMode runs the complete pipeline: periodic leaderboard updates, watch
// cycles, and (when enabled) periodic archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c := a.buildComponents(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.orch.Run(ctx, a.runConfig(c))
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			interval := a.cfg.Archive.Interval.Duration
			if interval <= 0 {
				interval = 24 * time.Hour
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := a.archiveOnce(ctx, deps); err != nil {
						a.logger.ErrorContext(ctx, "archival pass failed",
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}

	return g.Wait()
}

// archiveOnce moves rows older than the retention window to cold storage.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	boards, err := deps.Archiver.ArchiveLeaderboard(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive leaderboard: %w", err)
	}
	alerts, err := deps.Archiver.ArchiveAlerts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive alerts: %w", err)
	}

	a.logger.InfoContext(ctx, "archival pass complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("leaderboard_rows", boards),
		slog.Int64("alerts", alerts),
	)
	return nil
}
