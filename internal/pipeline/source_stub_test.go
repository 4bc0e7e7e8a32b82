package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/perpwatch/engine/internal/domain"
	"github.com/perpwatch/engine/internal/platform/indexer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSource is an in-memory FillSource. Fills and snapshots are keyed by
// account and ticker ("" = unfiltered) and filtered by the query's time
// bounds, mirroring the indexer client's contract.
type stubSource struct {
	mu      sync.Mutex
	fills   map[string][]domain.Fill
	snaps   map[string][]domain.PnlSnapshot
	fillErr map[string]error
	pnlErr  map[string]error
	queries []indexer.FillQuery
}

func newStubSource() *stubSource {
	return &stubSource{
		fills:   make(map[string][]domain.Fill),
		snaps:   make(map[string][]domain.PnlSnapshot),
		fillErr: make(map[string]error),
		pnlErr:  make(map[string]error),
	}
}

func sourceKey(addr string, sub int, ticker string) string {
	return fmt.Sprintf("%s/%d|%s", addr, sub, ticker)
}

func (s *stubSource) addFills(acct domain.AccountKey, ticker string, fills ...domain.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sourceKey(acct.Address, acct.Subaccount, ticker)
	s.fills[k] = append(s.fills[k], fills...)
}

func (s *stubSource) addSnaps(acct domain.AccountKey, snaps ...domain.PnlSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sourceKey(acct.Address, acct.Subaccount, "")
	s.snaps[k] = append(s.snaps[k], snaps...)
}

func (s *stubSource) setFillErr(addr string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fillErr, addr)
	} else {
		s.fillErr[addr] = err
	}
}

func (s *stubSource) fillQueries() []indexer.FillQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]indexer.FillQuery, len(s.queries))
	copy(out, s.queries)
	return out
}

func (s *stubSource) FetchFills(_ context.Context, q indexer.FillQuery) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)

	if err := s.fillErr[q.Address]; err != nil {
		return nil, err
	}

	var out []domain.Fill
	for _, f := range s.fills[sourceKey(q.Address, q.Subaccount, q.Ticker)] {
		if !q.CreatedOnOrAfter.IsZero() && f.CreatedAt.Before(q.CreatedOnOrAfter) {
			continue
		}
		if !q.CreatedBeforeOrAt.IsZero() && f.CreatedAt.After(q.CreatedBeforeOrAt) {
			continue
		}
		out = append(out, f)
		if q.MaxResults > 0 && len(out) >= q.MaxResults {
			break
		}
	}
	return out, nil
}

func (s *stubSource) FetchPnlSnapshots(_ context.Context, q indexer.PnlQuery) ([]domain.PnlSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pnlErr[q.Address]; err != nil {
		return nil, err
	}

	var out []domain.PnlSnapshot
	for _, snap := range s.snaps[sourceKey(q.Address, q.Subaccount, "")] {
		if !q.CreatedOnOrAfter.IsZero() && snap.CreatedAt.Before(q.CreatedOnOrAfter) {
			continue
		}
		if !q.CreatedBeforeOrAt.IsZero() && snap.CreatedAt.After(q.CreatedBeforeOrAt) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// eventCollector records fill events delivered by the watcher.
type eventCollector struct {
	mu     sync.Mutex
	events []domain.FillEvent
}

func (c *eventCollector) OnFillEvent(_ context.Context, e domain.FillEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) all() []domain.FillEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FillEvent, len(c.events))
	copy(out, c.events)
	return out
}
