// Package service holds the application services that sit between the
// pipeline and the stores: leaderboard ranking persistence and alert
// processing.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perpwatch/engine/internal/domain"
	"github.com/perpwatch/engine/internal/pipeline"
)

// LeaderboardService ranks scored traders and persists the result. It keeps
// the latest leaderboard in memory so watch cycles and rank lookups survive
// a degraded store; the durable store is the source of truth across
// restarts.
type LeaderboardService struct {
	store  domain.LeaderboardStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	snapshot []domain.TopTrader
	// knownExtra holds accounts remembered this process that the store has
	// not durably acknowledged, in first-observed order.
	knownExtra []domain.AccountKey
	knownSet   map[domain.AccountKey]bool
}

// NewLeaderboardService creates a LeaderboardService backed by store. A nil
// store yields a memory-only leaderboard, used by tests and dry runs.
func NewLeaderboardService(store domain.LeaderboardStore, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{
		store:    store,
		logger:   logger.With(slog.String("component", "leaderboard")),
		now:      func() time.Time { return time.Now().UTC() },
		knownSet: make(map[domain.AccountKey]bool),
	}
}

// SaveTopN assigns dense ranks 1..N to the already-sorted scores, replaces
// the in-memory leaderboard, and persists the batch. The returned entries
// are valid even when err is non-nil: a store failure degrades durability,
// not the current cycle.
func (s *LeaderboardService) SaveTopN(ctx context.Context, scores []domain.TraderScore, topN int) ([]domain.TopTrader, error) {
	if len(scores) == 0 {
		return nil, nil
	}
	if topN > 0 && len(scores) > topN {
		scores = scores[:topN]
	}

	observed := s.now()
	entries := make([]domain.TopTrader, len(scores))
	accounts := make([]domain.AccountKey, len(scores))
	for i, sc := range scores {
		entries[i] = domain.TopTrader{
			AccountAddress:   sc.AccountAddress,
			SubaccountNumber: sc.SubaccountNumber,
			Rank:             i + 1,
			Score:            sc.Score,
			RealizedPnl:      sc.RealizedPnl,
			NetPnl:           sc.NetPnl,
			FillCount:        sc.FillCount,
			Turnover:         sc.Turnover,
			WindowStart:      sc.WindowStart,
			WindowEnd:        sc.WindowEnd,
			ObservedAt:       observed,
		}
		accounts[i] = sc.Account()
	}

	s.mu.Lock()
	s.snapshot = entries
	for _, acct := range accounts {
		if !s.knownSet[acct] {
			s.knownSet[acct] = true
			s.knownExtra = append(s.knownExtra, acct)
		}
	}
	s.mu.Unlock()

	if s.store == nil {
		return entries, nil
	}

	if err := s.store.RememberAddresses(ctx, accounts); err != nil {
		s.logger.WarnContext(ctx, "leaderboard: remember addresses failed",
			slog.String("error", err.Error()),
		)
	}
	if err := s.store.SaveTopN(ctx, entries); err != nil {
		return entries, fmt.Errorf("leaderboard: save top-n: %w", err)
	}
	return entries, nil
}

// TopTraders returns the current leaderboard, rank ascending. The in-memory
// snapshot answers when this process has already ranked; otherwise the store
// supplies the last persisted run.
func (s *LeaderboardService) TopTraders(ctx context.Context, n int) ([]domain.TopTrader, error) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	if len(snap) > 0 {
		if n > 0 && len(snap) > n {
			snap = snap[:n]
		}
		out := make([]domain.TopTrader, len(snap))
		copy(out, snap)
		return out, nil
	}

	if s.store == nil {
		return nil, nil
	}
	traders, err := s.store.TopTraders(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: read top traders: %w", err)
	}
	return traders, nil
}

// KnownAddresses returns remembered accounts for discovery seeding: the
// store's durable set first, then accounts seen this process that the store
// has not confirmed. Order is first-observed throughout.
func (s *LeaderboardService) KnownAddresses(ctx context.Context, limit int) ([]domain.AccountKey, error) {
	var known []domain.AccountKey
	if s.store != nil {
		stored, err := s.store.KnownAddresses(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("leaderboard: known addresses: %w", err)
		}
		known = stored
	}

	seen := make(map[domain.AccountKey]bool, len(known))
	for _, acct := range known {
		seen[acct] = true
	}

	s.mu.RLock()
	for _, acct := range s.knownExtra {
		if !seen[acct] {
			seen[acct] = true
			known = append(known, acct)
		}
	}
	s.mu.RUnlock()

	if limit > 0 && len(known) > limit {
		known = known[:limit]
	}
	return known, nil
}

// RankOf returns the account's rank on the in-memory leaderboard, or nil
// when the account is not currently ranked.
func (s *LeaderboardService) RankOf(acct domain.AccountKey) *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.snapshot {
		if entry.Account() == acct {
			rank := entry.Rank
			return &rank
		}
	}
	return nil
}

// Compile-time check against the orchestrator's dependency.
var _ pipeline.LeaderboardRepo = (*LeaderboardService)(nil)
