package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perpwatch/engine/internal/domain"
)

// LeaderboardRepo is the slice of the leaderboard repository the
// orchestrator depends on.
type LeaderboardRepo interface {
	// SaveTopN ranks the already-sorted scores, persists the batch, and
	// returns the new entries. The returned entries are valid even when err
	// is non-nil: the in-memory leaderboard updates regardless so watching
	// can proceed while durable persistence is degraded.
	SaveTopN(ctx context.Context, scores []domain.TraderScore, topN int) ([]domain.TopTrader, error)
	TopTraders(ctx context.Context, n int) ([]domain.TopTrader, error)
	KnownAddresses(ctx context.Context, limit int) ([]domain.AccountKey, error)
}

// UpdateParams are the inputs to one leaderboard update run.
type UpdateParams struct {
	Tickers       []string
	TopN          int
	LookbackHours int
	WindowHours   int
	MinFills      int
	MinVolume     float64
	SeedAddresses []string
	// MaxSeeds caps how many known addresses are pulled back in as seeds.
	MaxSeeds int
}

// lock keys guarding the two cycle types against concurrent instances.
const (
	updateLockKey = "cycle:update"
	watchLockKey  = "cycle:watch"
)

// Orchestrator composes discovery, scoring, the leaderboard repository, and
// the watcher into the two public pipeline operations.
type Orchestrator struct {
	discoverer *Discoverer
	scorer     *Scorer
	watcher    *Watcher
	repo       LeaderboardRepo
	locks      domain.LockManager
	lockTTL    time.Duration
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator. locks may be nil, in which case
// cycles run unguarded (single-instance deployments).
func NewOrchestrator(
	discoverer *Discoverer,
	scorer *Scorer,
	watcher *Watcher,
	repo LeaderboardRepo,
	locks domain.LockManager,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		discoverer: discoverer,
		scorer:     scorer,
		watcher:    watcher,
		repo:       repo,
		locks:      locks,
		lockTTL:    lockTTL,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// UpdateLeaderboard runs discovery → scoring → ranking persistence and
// returns the new leaderboard. Partial failures (individual accounts,
// degraded durable persistence) are logged, never raised: the result list
// is possibly empty but the call does not error.
func (o *Orchestrator) UpdateLeaderboard(ctx context.Context, p UpdateParams) []domain.TopTrader {
	seeds := o.seedSet(ctx, p)
	if len(seeds) == 0 {
		o.logger.Warn("no seed accounts available, skipping update")
		return nil
	}

	candidates := o.discoverer.Discover(ctx, DiscoverParams{
		Seeds:         seeds,
		Tickers:       p.Tickers,
		LookbackHours: p.LookbackHours,
		MinFills:      p.MinFills,
		MinVolume:     p.MinVolume,
	})
	if len(candidates) == 0 {
		o.logger.Info("no candidates met discovery thresholds")
		return nil
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-time.Duration(p.WindowHours) * time.Hour)
	scores := o.scorer.Score(ctx, candidates, windowStart, windowEnd)
	if len(scores) == 0 {
		o.logger.Info("no candidates survived scoring")
		return nil
	}

	entries, err := o.repo.SaveTopN(ctx, scores, p.TopN)
	if err != nil {
		o.logger.Error("leaderboard save degraded, continuing with in-memory state",
			slog.String("error", err.Error()),
		)
	}

	o.logger.Info("leaderboard updated",
		slog.Int("seeds", len(seeds)),
		slog.Int("candidates", len(candidates)),
		slog.Int("entries", len(entries)),
		slog.Time("window_end", windowEnd),
	)
	return entries
}

// WatchLeaderboard runs one watch cycle over the current top-N members and
// returns the fill events produced. A repository read failure yields an
// empty watch set.
func (o *Orchestrator) WatchLeaderboard(ctx context.Context, topN int, listener domain.FillListener) []domain.FillEvent {
	members, err := o.repo.TopTraders(ctx, topN)
	if err != nil {
		o.logger.Error("cannot read leaderboard, skipping watch cycle",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(members) == 0 {
		return nil
	}
	return o.watcher.WatchOnce(ctx, members, listener)
}

// RunConfig drives the periodic scheduling loop.
type RunConfig struct {
	Params         UpdateParams
	UpdateInterval time.Duration
	WatchInterval  time.Duration
	Listener       domain.FillListener
}

// Run drives update on the long interval and watch on the short one until
// ctx is cancelled. An update runs immediately on start.
func (o *Orchestrator) Run(ctx context.Context, rc RunConfig) error {
	o.logger.Info("pipeline starting",
		slog.Duration("update_interval", rc.UpdateInterval),
		slog.Duration("watch_interval", rc.WatchInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.UpdateLoop(ctx, rc) })
	g.Go(func() error { return o.WatchLoop(ctx, rc) })
	return g.Wait()
}

// UpdateLoop runs leaderboard updates on rc.UpdateInterval until ctx is
// cancelled, starting with an immediate update. Each cycle is guarded by a
// distributed lock so horizontally scaled instances do not race on ranking
// writes.
func (o *Orchestrator) UpdateLoop(ctx context.Context, rc RunConfig) error {
	o.withLock(ctx, updateLockKey, func() {
		o.UpdateLeaderboard(ctx, rc.Params)
	})

	ticker := time.NewTicker(rc.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.withLock(ctx, updateLockKey, func() {
				o.UpdateLeaderboard(ctx, rc.Params)
			})
		}
	}
}

// WatchLoop runs watch cycles on rc.WatchInterval until ctx is cancelled.
// Each cycle is lock-guarded like UpdateLoop; the lock also protects the
// shared dedup cursor state.
func (o *Orchestrator) WatchLoop(ctx context.Context, rc RunConfig) error {
	ticker := time.NewTicker(rc.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.withLock(ctx, watchLockKey, func() {
				o.WatchLeaderboard(ctx, rc.Params.TopN, rc.Listener)
			})
		}
	}
}

// withLock runs fn while holding the named distributed lock. A held lock
// means another instance owns this cycle; the run is skipped, not queued.
func (o *Orchestrator) withLock(ctx context.Context, key string, fn func()) {
	if o.locks == nil {
		fn()
		return
	}
	unlock, err := o.locks.Acquire(ctx, key, o.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			o.logger.Debug("cycle lock held elsewhere, skipping", slog.String("key", key))
		} else {
			o.logger.Warn("lock acquire failed, running unguarded",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			fn()
		}
		return
	}
	defer unlock()
	fn()
}

// seedSet merges configured seed addresses with previously discovered
// accounts from the repository, deduplicated in first-observed order.
func (o *Orchestrator) seedSet(ctx context.Context, p UpdateParams) []domain.AccountKey {
	seen := make(map[domain.AccountKey]bool)
	var seeds []domain.AccountKey

	for _, addr := range p.SeedAddresses {
		key := domain.AccountKey{Address: addr}
		if !seen[key] {
			seen[key] = true
			seeds = append(seeds, key)
		}
	}

	known, err := o.repo.KnownAddresses(ctx, p.MaxSeeds)
	if err != nil {
		o.logger.Warn("known-address lookup failed, using configured seeds only",
			slog.String("error", err.Error()),
		)
		return seeds
	}
	for _, key := range known {
		if !seen[key] {
			seen[key] = true
			seeds = append(seeds, key)
		}
	}

	if p.MaxSeeds > 0 && len(seeds) > p.MaxSeeds {
		seeds = seeds[:p.MaxSeeds]
	}
	return seeds
}
