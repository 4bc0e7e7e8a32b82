package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpwatch/engine/internal/domain"
)

// failingSeen simulates a dedup backend outage.
type failingSeen struct{}

func (failingSeen) MarkSeen(context.Context, domain.AccountKey, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func memberFor(acct domain.AccountKey, observedAt time.Time) domain.TopTrader {
	return domain.TopTrader{
		AccountAddress:   acct.Address,
		SubaccountNumber: acct.Subaccount,
		Rank:             1,
		ObservedAt:       observedAt,
	}
}

func TestWatchOnceEmitsEachFillOnce(t *testing.T) {
	source := newStubSource()
	observedAt := time.Now().UTC().Add(-time.Hour)
	acct := domain.AccountKey{Address: "dydx1member"}

	f1 := fillAt(observedAt.Add(10*time.Minute), "BTC-USD", 100, 1)
	f1.ID = "fill-1"
	f2 := fillAt(observedAt.Add(20*time.Minute), "ETH-USD", 200, 1)
	f2.ID = "fill-2"
	source.addFills(acct, "", f1, f2)

	w := NewWatcher(source, NewMemorySeenFills(time.Hour), 500, testLogger())
	collector := &eventCollector{}
	members := []domain.TopTrader{memberFor(acct, observedAt)}

	events := w.WatchOnce(context.Background(), members, collector)
	require.Len(t, events, 2)
	assert.Equal(t, "fill-1", events[0].FillID)
	assert.Equal(t, "fill-2", events[1].FillID)
	assert.Len(t, collector.all(), 2)

	// Same members, same backing fills: nothing new to emit.
	events = w.WatchOnce(context.Background(), members, collector)
	assert.Empty(t, events)
	assert.Len(t, collector.all(), 2)

	queries := source.fillQueries()
	require.Len(t, queries, 2)
	assert.Equal(t, observedAt, queries[0].CreatedOnOrAfter)
	assert.Equal(t, 500, queries[0].MaxResults)
	assert.True(t, queries[1].CreatedOnOrAfter.After(observedAt))
}

func TestWatchOnceIgnoresFillsBeforeLeaderboardEntry(t *testing.T) {
	source := newStubSource()
	observedAt := time.Now().UTC().Add(-time.Hour)
	acct := domain.AccountKey{Address: "dydx1member"}

	old := fillAt(observedAt.Add(-time.Hour), "BTC-USD", 100, 1)
	old.ID = "pre-entry"
	source.addFills(acct, "", old)

	w := NewWatcher(source, NewMemorySeenFills(time.Hour), 0, testLogger())
	events := w.WatchOnce(context.Background(), []domain.TopTrader{memberFor(acct, observedAt)}, nil)
	assert.Empty(t, events)
}

func TestWatchOnceRetriesWindowAfterFetchFailure(t *testing.T) {
	source := newStubSource()
	observedAt := time.Now().UTC().Add(-time.Hour)
	acct := domain.AccountKey{Address: "dydx1flaky"}

	fill := fillAt(observedAt.Add(time.Minute), "BTC-USD", 100, 1)
	fill.ID = "fill-1"
	source.addFills(acct, "", fill)
	source.setFillErr(acct.Address, errors.New("indexer: 503"))

	w := NewWatcher(source, NewMemorySeenFills(time.Hour), 0, testLogger())
	members := []domain.TopTrader{memberFor(acct, observedAt)}

	events := w.WatchOnce(context.Background(), members, nil)
	assert.Empty(t, events)

	// The failed cycle must not advance the cursor, so the retry covers the
	// same window and surfaces the fill.
	source.setFillErr(acct.Address, nil)
	events = w.WatchOnce(context.Background(), members, nil)
	require.Len(t, events, 1)
	assert.Equal(t, "fill-1", events[0].FillID)

	queries := source.fillQueries()
	require.Len(t, queries, 2)
	assert.Equal(t, queries[0].CreatedOnOrAfter, queries[1].CreatedOnOrAfter)
}

func TestEmitSynthesizesFillIDWhenMissing(t *testing.T) {
	source := newStubSource()
	createdAt := time.Date(2026, 8, 20, 12, 30, 0, 123456789, time.UTC)
	acct := domain.AccountKey{Address: "dydx1anon"}

	w := NewWatcher(source, NewMemorySeenFills(time.Hour), 0, testLogger())
	collector := &eventCollector{}

	fill := fillAt(createdAt, "SOL-USD", 50, 2)
	w.HandleLiveFill(context.Background(), acct, fill, collector)

	events := collector.all()
	require.Len(t, events, 1)
	want := fmt.Sprintf("%s-%s", createdAt.Format(time.RFC3339Nano), "SOL-USD")
	assert.Equal(t, want, events[0].FillID)

	// The synthetic identity must dedup the same record on a second sighting.
	w.HandleLiveFill(context.Background(), acct, fill, collector)
	assert.Len(t, collector.all(), 1)
}

func TestHandleLiveFillSharesDedupWithPolling(t *testing.T) {
	source := newStubSource()
	observedAt := time.Now().UTC().Add(-time.Hour)
	acct := domain.AccountKey{Address: "dydx1member"}

	fill := fillAt(observedAt.Add(time.Minute), "BTC-USD", 100, 1)
	fill.ID = "fill-1"
	source.addFills(acct, "", fill)

	w := NewWatcher(source, NewMemorySeenFills(time.Hour), 0, testLogger())
	collector := &eventCollector{}

	events := w.WatchOnce(context.Background(), []domain.TopTrader{memberFor(acct, observedAt)}, collector)
	require.Len(t, events, 1)

	// The same fill arriving over the websocket is a duplicate.
	w.HandleLiveFill(context.Background(), acct, fill, collector)
	assert.Len(t, collector.all(), 1)
}

func TestEmitSuppressedWhenDedupUnavailable(t *testing.T) {
	w := NewWatcher(newStubSource(), failingSeen{}, 0, testLogger())
	collector := &eventCollector{}

	fill := fillAt(time.Now().UTC(), "BTC-USD", 100, 1)
	fill.ID = "fill-1"
	w.HandleLiveFill(context.Background(), domain.AccountKey{Address: "dydx1x"}, fill, collector)

	assert.Empty(t, collector.all())
}

func TestMemorySeenFillsExpiresEntries(t *testing.T) {
	seen := NewMemorySeenFills(50 * time.Millisecond)
	acct := domain.AccountKey{Address: "dydx1x"}

	first, err := seen.MarkSeen(context.Background(), acct, "fill-1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = seen.MarkSeen(context.Background(), acct, "fill-1")
	require.NoError(t, err)
	assert.False(t, first)

	time.Sleep(60 * time.Millisecond)

	first, err = seen.MarkSeen(context.Background(), acct, "fill-1")
	require.NoError(t, err)
	assert.True(t, first)
}
