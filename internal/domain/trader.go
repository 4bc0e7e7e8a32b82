package domain

import "time"

// TraderCandidate is a per-account activity summary aggregated from recent
// fills during a discovery run. Candidates are never persisted; they are
// consumed immediately by scoring.
type TraderCandidate struct {
	AccountAddress   string
	SubaccountNumber int
	FillCount        int
	TotalVolume      float64
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
}

// Account returns the candidate's account key.
func (c TraderCandidate) Account() AccountKey {
	return AccountKey{Address: c.AccountAddress, Subaccount: c.SubaccountNumber}
}

// ScoreWeights are the coefficients of the weighted trader score.
type ScoreWeights struct {
	RealizedPnl float64
	NetPnl      float64
	FillCount   float64
	Turnover    float64
}

// DefaultScoreWeights returns the standard weighting used when none is
// configured.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		RealizedPnl: 0.4,
		NetPnl:      0.3,
		FillCount:   0.1,
		Turnover:    0.2,
	}
}

// turnoverScale normalizes turnover to millions so it is commensurable with
// PnL in the default-weighted sum. Changing this constant changes every
// historical score.
const turnoverScale = 1_000_000

// TraderScore is the immutable result of scoring one candidate over a
// window. WindowStart < WindowEnd always holds.
type TraderScore struct {
	AccountAddress   string
	SubaccountNumber int
	WindowStart      time.Time
	WindowEnd        time.Time
	RealizedPnl      float64
	NetPnl           float64
	FillCount        int
	Turnover         float64
	Score            float64
}

// Account returns the scored account's key.
func (s TraderScore) Account() AccountKey {
	return AccountKey{Address: s.AccountAddress, Subaccount: s.SubaccountNumber}
}

// WeightedScore computes the composite score from the trader's window
// aggregates under the given weights.
func (s TraderScore) WeightedScore(w ScoreWeights) float64 {
	return w.RealizedPnl*s.RealizedPnl +
		w.NetPnl*s.NetPnl +
		w.FillCount*float64(s.FillCount) +
		w.Turnover*(s.Turnover/turnoverScale)
}

// TopTrader is a leaderboard entry produced by a ranking run. Entries are
// superseded, never mutated: a later run for the same
// (address, subaccount, window_end) identity replaces the row.
type TopTrader struct {
	AccountAddress   string
	SubaccountNumber int
	Rank             int
	Score            float64
	RealizedPnl      float64
	NetPnl           float64
	FillCount        int
	Turnover         float64
	WindowStart      time.Time
	WindowEnd        time.Time
	ObservedAt       time.Time
}

// Account returns the member's account key.
func (t TopTrader) Account() AccountKey {
	return AccountKey{Address: t.AccountAddress, Subaccount: t.SubaccountNumber}
}
