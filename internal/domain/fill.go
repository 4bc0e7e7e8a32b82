package domain

import (
	"context"
	"fmt"
	"time"
)

// Side is the taker direction of an executed fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is a single executed trade returned by the exchange indexer for one
// account and market.
type Fill struct {
	ID          string
	Side        Side
	Price       float64
	Size        float64
	Fee         float64
	RealizedPnl *float64
	Ticker      string
	EffectiveAt time.Time
	CreatedAt   time.Time
}

// Notional returns the traded notional value (price × size) of the fill.
func (f Fill) Notional() float64 {
	return f.Price * f.Size
}

// PnlSnapshot is a periodic record of an account's realized and net
// profit-and-loss published by the indexer.
type PnlSnapshot struct {
	RealizedPnl float64
	NetPnl      float64
	CreatedAt   time.Time
}

// AccountKey identifies a trader account: a parent address plus the
// subaccount number isolating its margin and positions.
type AccountKey struct {
	Address    string
	Subaccount int
}

// String renders the key in the "address/subaccount" form used for log
// fields and cache keys.
func (k AccountKey) String() string {
	return fmt.Sprintf("%s/%d", k.Address, k.Subaccount)
}

// FillEvent is a fill newly observed by the activity watcher for a
// leaderboard member. A given FillID is emitted at most once per dedup
// horizon.
type FillEvent struct {
	FillID           string
	AccountAddress   string
	SubaccountNumber int
	Ticker           string
	Side             Side
	Price            float64
	Size             float64
	Fee              float64
	RealizedPnl      *float64
	EffectiveAt      time.Time
	CreatedAt        time.Time
	ObservedAt       time.Time
}

// Account returns the account key the event belongs to.
func (e FillEvent) Account() AccountKey {
	return AccountKey{Address: e.AccountAddress, Subaccount: e.SubaccountNumber}
}

// VolumeUSD returns the notional value of the underlying fill.
func (e FillEvent) VolumeUSD() float64 {
	return e.Price * e.Size
}

// FillListener receives fill events from the watcher. Implementations must
// not retain the event past the call; the watcher invokes listeners
// synchronously within a watch cycle.
type FillListener interface {
	OnFillEvent(ctx context.Context, event FillEvent)
}

// FillListenerFunc adapts a plain function to the FillListener interface.
type FillListenerFunc func(ctx context.Context, event FillEvent)

// OnFillEvent implements FillListener.
func (f FillListenerFunc) OnFillEvent(ctx context.Context, event FillEvent) {
	f(ctx, event)
}
