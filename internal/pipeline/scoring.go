package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/perpwatch/engine/internal/domain"
	"github.com/perpwatch/engine/internal/platform/indexer"
)

// Scorer computes a weighted composite score for each discovered candidate
// over a scoring window.
type Scorer struct {
	source  FillSource
	weights domain.ScoreWeights
	logger  *slog.Logger
}

// NewScorer creates a Scorer with the given weights.
func NewScorer(source FillSource, weights domain.ScoreWeights, logger *slog.Logger) *Scorer {
	return &Scorer{
		source:  source,
		weights: weights,
		logger:  logger.With(slog.String("component", "scoring")),
	}
}

// Score fetches PnL snapshots and fills for every candidate within
// [windowStart, windowEnd) and returns the resulting scores sorted by score
// descending. Equal scores order deterministically by (address, subaccount)
// ascending. Candidates whose fetches fail are dropped and logged; the batch
// never aborts for one candidate.
func (s *Scorer) Score(ctx context.Context, candidates []domain.TraderCandidate, windowStart, windowEnd time.Time) []domain.TraderScore {
	scores := make([]domain.TraderScore, 0, len(candidates))

	for _, cand := range candidates {
		if ctx.Err() != nil {
			s.logger.Warn("scoring cancelled mid-run",
				slog.Int("scored_so_far", len(scores)),
			)
			break
		}

		score, err := s.scoreOne(ctx, cand, windowStart, windowEnd)
		if err != nil {
			s.logger.Warn("dropping candidate: scoring fetch failed",
				slog.String("account", cand.Account().String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		scores = append(scores, score)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].AccountAddress != scores[j].AccountAddress {
			return scores[i].AccountAddress < scores[j].AccountAddress
		}
		return scores[i].SubaccountNumber < scores[j].SubaccountNumber
	})

	s.logger.Info("scoring run complete",
		slog.Int("candidates", len(candidates)),
		slog.Int("scored", len(scores)),
	)
	return scores
}

func (s *Scorer) scoreOne(ctx context.Context, cand domain.TraderCandidate, windowStart, windowEnd time.Time) (domain.TraderScore, error) {
	acct := cand.Account()

	snaps, err := s.source.FetchPnlSnapshots(ctx, indexer.PnlQuery{
		Address:           acct.Address,
		Subaccount:        acct.Subaccount,
		CreatedOnOrAfter:  windowStart,
		CreatedBeforeOrAt: windowEnd,
	})
	if err != nil {
		return domain.TraderScore{}, err
	}

	fills, err := s.source.FetchFills(ctx, indexer.FillQuery{
		Address:           acct.Address,
		Subaccount:        acct.Subaccount,
		CreatedOnOrAfter:  windowStart,
		CreatedBeforeOrAt: windowEnd,
	})
	if err != nil {
		return domain.TraderScore{}, err
	}

	score := domain.TraderScore{
		AccountAddress:   acct.Address,
		SubaccountNumber: acct.Subaccount,
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		FillCount:        len(fills),
	}
	for _, snap := range snaps {
		score.RealizedPnl += snap.RealizedPnl
		score.NetPnl += snap.NetPnl
	}
	for _, f := range fills {
		score.Turnover += f.Notional()
	}
	score.Score = score.WeightedScore(s.weights)
	return score, nil
}
