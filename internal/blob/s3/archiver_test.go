package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpwatch/engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePutter struct {
	puts   map[string][]byte
	putErr error
}

func newFakePutter() *fakePutter {
	return &fakePutter{puts: make(map[string][]byte)}
}

func (p *fakePutter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if p.putErr != nil {
		return p.putErr
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	p.puts[path] = buf.Bytes()
	return nil
}

type fakeArchiveStore struct {
	boards    []domain.TopTrader
	deleted   int
	deleteErr error
}

func (s *fakeArchiveStore) ListBefore(context.Context, time.Time) ([]domain.TopTrader, error) {
	return s.boards, nil
}

func (s *fakeArchiveStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deleted++
	return int64(len(s.boards)), nil
}

type fakeAlertArchiveStore struct {
	alerts  []domain.TopTraderAlert
	deleted int
}

func (s *fakeAlertArchiveStore) ListBefore(context.Context, time.Time) ([]domain.TopTraderAlert, error) {
	return s.alerts, nil
}

func (s *fakeAlertArchiveStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deleted++
	return int64(len(s.alerts)), nil
}

func TestArchiveLeaderboardUploadsThenPrunes(t *testing.T) {
	putter := newFakePutter()
	store := &fakeArchiveStore{boards: []domain.TopTrader{
		{AccountAddress: "dydx1a", Rank: 1, Score: 90},
		{AccountAddress: "dydx1b", Rank: 2, Score: 50},
	}}
	a := NewArchiver(putter, store, &fakeAlertArchiveStore{}, testLogger())

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveLeaderboard(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, store.deleted)

	body, ok := putter.puts["archive/leaderboard/2026-08.jsonl"]
	require.True(t, ok, "expected month-partitioned archive key")

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "dydx1a")
	assert.Contains(t, lines[1], "dydx1b")
}

func TestArchiveLeaderboardUploadFailureLeavesStore(t *testing.T) {
	putter := newFakePutter()
	putter.putErr = errors.New("s3: bucket unreachable")
	store := &fakeArchiveStore{boards: []domain.TopTrader{{AccountAddress: "dydx1a"}}}
	a := NewArchiver(putter, store, &fakeAlertArchiveStore{}, testLogger())

	_, err := a.ArchiveLeaderboard(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Zero(t, store.deleted, "rows must survive a failed upload for the next run to retry")
}

func TestArchiveLeaderboardEmptyWindowIsNoop(t *testing.T) {
	putter := newFakePutter()
	store := &fakeArchiveStore{}
	a := NewArchiver(putter, store, &fakeAlertArchiveStore{}, testLogger())

	n, err := a.ArchiveLeaderboard(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, putter.puts)
	assert.Zero(t, store.deleted)
}

func TestArchiveAlerts(t *testing.T) {
	putter := newFakePutter()
	alerts := &fakeAlertArchiveStore{alerts: []domain.TopTraderAlert{
		{ID: "a1", Type: domain.AlertLargeTrade, Severity: domain.SeverityHigh},
	}}
	a := NewArchiver(putter, &fakeArchiveStore{}, alerts, testLogger())

	cutoff := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveAlerts(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, alerts.deleted)
	assert.Contains(t, putter.puts, "archive/alerts/2026-07.jsonl")
}
