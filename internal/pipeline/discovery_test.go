package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpwatch/engine/internal/domain"
)

func fillAt(ts time.Time, ticker string, price, size float64) domain.Fill {
	return domain.Fill{
		Ticker:    ticker,
		Side:      domain.SideBuy,
		Price:     price,
		Size:      size,
		CreatedAt: ts,
	}
}

func TestDiscoverAppliesActivityThresholds(t *testing.T) {
	source := newStubSource()
	now := time.Now().UTC()

	active := domain.AccountKey{Address: "dydx1active"}
	for i := 0; i < 6; i++ {
		source.addFills(active, "", fillAt(now.Add(-time.Duration(i)*time.Minute), "BTC-USD", 3000, 1))
	}

	// Enough volume but too few fills.
	sparse := domain.AccountKey{Address: "dydx1sparse"}
	source.addFills(sparse, "", fillAt(now, "BTC-USD", 50000, 1))

	// Enough fills but too little volume.
	small := domain.AccountKey{Address: "dydx1small"}
	for i := 0; i < 6; i++ {
		source.addFills(small, "", fillAt(now.Add(-time.Duration(i)*time.Minute), "ETH-USD", 10, 1))
	}

	d := NewDiscoverer(source, testLogger())
	candidates := d.Discover(context.Background(), DiscoverParams{
		Seeds:     []domain.AccountKey{active, sparse, small},
		MinFills:  5,
		MinVolume: 10000,
	})

	require.Len(t, candidates, 1)
	cand := candidates[0]
	assert.Equal(t, "dydx1active", cand.AccountAddress)
	assert.Equal(t, 6, cand.FillCount)
	assert.InDelta(t, 18000.0, cand.TotalVolume, 1e-9)
	assert.True(t, cand.FirstSeenAt.Before(cand.LastSeenAt))
}

func TestDiscoverSkipsFailingAccount(t *testing.T) {
	source := newStubSource()
	now := time.Now().UTC()

	good := domain.AccountKey{Address: "dydx1good"}
	source.addFills(good, "", fillAt(now, "BTC-USD", 20000, 1))

	bad := domain.AccountKey{Address: "dydx1bad"}
	source.setFillErr("dydx1bad", errors.New("indexer: 503"))

	d := NewDiscoverer(source, testLogger())
	candidates := d.Discover(context.Background(), DiscoverParams{
		Seeds:     []domain.AccountKey{bad, good},
		MinFills:  1,
		MinVolume: 1,
	})

	require.Len(t, candidates, 1)
	assert.Equal(t, "dydx1good", candidates[0].AccountAddress)
}

func TestDiscoverFallsBackToPerTickerQueries(t *testing.T) {
	source := newStubSource()
	now := time.Now().UTC()

	acct := domain.AccountKey{Address: "dydx1scoped"}
	// No fills under the unfiltered key, only under market-scoped keys.
	source.addFills(acct, "BTC-USD", fillAt(now, "BTC-USD", 10000, 1))
	source.addFills(acct, "ETH-USD", fillAt(now.Add(-time.Minute), "ETH-USD", 2000, 2))

	d := NewDiscoverer(source, testLogger())
	candidates := d.Discover(context.Background(), DiscoverParams{
		Seeds:     []domain.AccountKey{acct},
		Tickers:   []string{"BTC-USD", "ETH-USD"},
		MinFills:  2,
		MinVolume: 1000,
	})

	require.Len(t, candidates, 1)
	assert.Equal(t, 2, candidates[0].FillCount)
	assert.InDelta(t, 14000.0, candidates[0].TotalVolume, 1e-9)

	queries := source.fillQueries()
	require.Len(t, queries, 3)
	assert.Empty(t, queries[0].Ticker)
	assert.Equal(t, "BTC-USD", queries[1].Ticker)
	assert.Equal(t, "ETH-USD", queries[2].Ticker)
}

func TestDiscoverHonoursLookbackWindow(t *testing.T) {
	source := newStubSource()
	now := time.Now().UTC()

	acct := domain.AccountKey{Address: "dydx1old"}
	source.addFills(acct, "",
		fillAt(now.Add(-48*time.Hour), "BTC-USD", 50000, 1),
		fillAt(now.Add(-time.Hour), "BTC-USD", 50000, 1),
	)

	d := NewDiscoverer(source, testLogger())
	candidates := d.Discover(context.Background(), DiscoverParams{
		Seeds:         []domain.AccountKey{acct},
		LookbackHours: 24,
		MinFills:      1,
		MinVolume:     1,
	})

	require.Len(t, candidates, 1)
	assert.Equal(t, 1, candidates[0].FillCount)
}
