package domain

import (
	"context"
	"time"
)

// LeaderboardStore persists ranking runs and the set of known trader
// addresses.
type LeaderboardStore interface {
	// SaveTopN stores a ranked batch, replacing any existing rows whose
	// (address, subaccount, window_end) identity collides with a new entry.
	SaveTopN(ctx context.Context, entries []TopTrader) error
	// TopTraders returns entries for the most recent window, rank ascending.
	// n <= 0 means no truncation.
	TopTraders(ctx context.Context, n int) ([]TopTrader, error)
	// KnownAddresses returns durably remembered accounts in first-observed
	// order, truncated to limit.
	KnownAddresses(ctx context.Context, limit int) ([]AccountKey, error)
	// RememberAddresses records accounts so later discovery runs can widen
	// their seed set. Already known accounts keep their original position.
	RememberAddresses(ctx context.Context, accounts []AccountKey) error
	// ListBefore returns leaderboard rows observed strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]TopTrader, error)
	// DeleteBefore removes leaderboard rows observed strictly before the
	// cutoff and returns the number deleted.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertStore persists classified alerts.
type AlertStore interface {
	Insert(ctx context.Context, alert TopTraderAlert) error
	ListRecent(ctx context.Context, limit int) ([]TopTraderAlert, error)
	ListBefore(ctx context.Context, before time.Time) ([]TopTraderAlert, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
