package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpwatch/engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLeaderboardStore records calls and fails on demand.
type fakeLeaderboardStore struct {
	mu          sync.Mutex
	saved       [][]domain.TopTrader
	saveErr     error
	top         []domain.TopTrader
	topErr      error
	known       []domain.AccountKey
	knownErr    error
	remembered  [][]domain.AccountKey
	rememberErr error
}

func (s *fakeLeaderboardStore) SaveTopN(_ context.Context, entries []domain.TopTrader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, entries)
	return s.saveErr
}

func (s *fakeLeaderboardStore) TopTraders(context.Context, int) ([]domain.TopTrader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.top, s.topErr
}

func (s *fakeLeaderboardStore) KnownAddresses(context.Context, int) ([]domain.AccountKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known, s.knownErr
}

func (s *fakeLeaderboardStore) RememberAddresses(_ context.Context, accounts []domain.AccountKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remembered = append(s.remembered, accounts)
	return s.rememberErr
}

func (s *fakeLeaderboardStore) ListBefore(context.Context, time.Time) ([]domain.TopTrader, error) {
	return nil, nil
}

func (s *fakeLeaderboardStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func scoreFor(addr string, sub int, score float64) domain.TraderScore {
	return domain.TraderScore{
		AccountAddress:   addr,
		SubaccountNumber: sub,
		Score:            score,
	}
}

func TestSaveTopNAssignsDenseRanks(t *testing.T) {
	store := &fakeLeaderboardStore{}
	svc := NewLeaderboardService(store, testLogger())

	entries, err := svc.SaveTopN(context.Background(), []domain.TraderScore{
		scoreFor("dydx1first", 0, 90),
		scoreFor("dydx1second", 1, 50),
		scoreFor("dydx1third", 0, 10),
	}, 20)

	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Rank)
		assert.False(t, entry.ObservedAt.IsZero())
	}
	assert.Equal(t, "dydx1first", entries[0].AccountAddress)

	require.Len(t, store.saved, 1)
	require.Len(t, store.remembered, 1)
	assert.Len(t, store.remembered[0], 3)
}

func TestSaveTopNTruncatesToTopN(t *testing.T) {
	svc := NewLeaderboardService(nil, testLogger())

	entries, err := svc.SaveTopN(context.Background(), []domain.TraderScore{
		scoreFor("dydx1a", 0, 90),
		scoreFor("dydx1b", 0, 50),
		scoreFor("dydx1c", 0, 10),
	}, 2)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dydx1a", entries[0].AccountAddress)
	assert.Equal(t, "dydx1b", entries[1].AccountAddress)
}

func TestSaveTopNStoreFailureStillReturnsEntries(t *testing.T) {
	store := &fakeLeaderboardStore{saveErr: errors.New("postgres: connection refused")}
	svc := NewLeaderboardService(store, testLogger())

	entries, err := svc.SaveTopN(context.Background(), []domain.TraderScore{
		scoreFor("dydx1a", 0, 90),
	}, 20)

	require.Error(t, err)
	require.Len(t, entries, 1)

	// The in-memory snapshot updated despite the store failure.
	traders, err := svc.TopTraders(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, traders, 1)
	assert.Equal(t, "dydx1a", traders[0].AccountAddress)
}

func TestTopTradersFallsBackToStore(t *testing.T) {
	store := &fakeLeaderboardStore{top: []domain.TopTrader{
		{AccountAddress: "dydx1stored", Rank: 1},
	}}
	svc := NewLeaderboardService(store, testLogger())

	traders, err := svc.TopTraders(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, traders, 1)
	assert.Equal(t, "dydx1stored", traders[0].AccountAddress)
}

func TestTopTradersPrefersMemorySnapshot(t *testing.T) {
	store := &fakeLeaderboardStore{top: []domain.TopTrader{
		{AccountAddress: "dydx1stale", Rank: 1},
	}}
	svc := NewLeaderboardService(store, testLogger())

	_, err := svc.SaveTopN(context.Background(), []domain.TraderScore{
		scoreFor("dydx1fresh", 0, 90),
	}, 20)
	require.NoError(t, err)

	traders, err := svc.TopTraders(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, traders, 1)
	assert.Equal(t, "dydx1fresh", traders[0].AccountAddress)
}

func TestKnownAddressesMergesStoreAndMemory(t *testing.T) {
	store := &fakeLeaderboardStore{
		known:       []domain.AccountKey{{Address: "dydx1durable"}},
		rememberErr: errors.New("postgres: down"),
	}
	svc := NewLeaderboardService(store, testLogger())

	// RememberAddresses fails, so this account only exists in memory.
	_, err := svc.SaveTopN(context.Background(), []domain.TraderScore{
		scoreFor("dydx1fresh", 2, 90),
	}, 20)
	require.NoError(t, err)

	known, err := svc.KnownAddresses(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, known, 2)
	assert.Equal(t, "dydx1durable", known[0].Address)
	assert.Equal(t, domain.AccountKey{Address: "dydx1fresh", Subaccount: 2}, known[1])
}

func TestKnownAddressesStoreErrorPropagates(t *testing.T) {
	store := &fakeLeaderboardStore{knownErr: errors.New("postgres: down")}
	svc := NewLeaderboardService(store, testLogger())

	_, err := svc.KnownAddresses(context.Background(), 10)
	assert.Error(t, err)
}

func TestRankOf(t *testing.T) {
	svc := NewLeaderboardService(nil, testLogger())

	_, err := svc.SaveTopN(context.Background(), []domain.TraderScore{
		scoreFor("dydx1top", 0, 90),
		scoreFor("dydx1mid", 1, 50),
	}, 20)
	require.NoError(t, err)

	rank := svc.RankOf(domain.AccountKey{Address: "dydx1mid", Subaccount: 1})
	require.NotNil(t, rank)
	assert.Equal(t, 2, *rank)

	assert.Nil(t, svc.RankOf(domain.AccountKey{Address: "dydx1missing"}))
}
