package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/perpwatch/engine/internal/domain"
)

// Narrow store slices required by the archiver. The Postgres stores satisfy
// these implicitly.

// LeaderboardArchiveStore provides the leaderboard queries archiving needs.
type LeaderboardArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TopTrader, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertArchiveStore provides the alert queries archiving needs.
type AlertArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TopTraderAlert, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// objectPutter is the single upload operation the archiver uses; Writer
// satisfies it.
type objectPutter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves superseded leaderboard rows and old alerts out of the
// primary store into JSONL objects in cold storage. Rows are deleted only
// after the upload succeeds: a failed upload leaves the primary store
// untouched so the next run retries the same window.
type Archiver struct {
	writer       objectPutter
	leaderboards LeaderboardArchiveStore
	alerts       AlertArchiveStore
	logger       *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer objectPutter,
	leaderboards LeaderboardArchiveStore,
	alerts AlertArchiveStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:       writer,
		leaderboards: leaderboards,
		alerts:       alerts,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveLeaderboard uploads leaderboard rows observed before the cutoff to
// archive/leaderboard/YYYY-MM.jsonl, then prunes them from the store. It
// returns the number of rows archived.
func (a *Archiver) ArchiveLeaderboard(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.leaderboards.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive leaderboard query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive leaderboard marshal: %w", err)
	}

	path := archivePath("leaderboard", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive leaderboard upload: %w", err)
	}

	deleted, err := a.leaderboards.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive leaderboard prune: %w", err)
	}

	a.logger.InfoContext(ctx, "leaderboard archived",
		slog.String("path", path),
		slog.Int("rows", len(rows)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(rows)), nil
}

// ArchiveAlerts uploads alerts created before the cutoff to
// archive/alerts/YYYY-MM.jsonl, then prunes them from the store. It returns
// the number of alerts archived.
func (a *Archiver) ArchiveAlerts(ctx context.Context, before time.Time) (int64, error) {
	alerts, err := a.alerts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts query: %w", err)
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(alerts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts marshal: %w", err)
	}

	path := archivePath("alerts", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts upload: %w", err)
	}

	deleted, err := a.alerts.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(alerts)), fmt.Errorf("s3blob: archive alerts prune: %w", err)
	}

	a.logger.InfoContext(ctx, "alerts archived",
		slog.String("path", path),
		slog.Int("rows", len(alerts)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(alerts)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/leaderboard/2026-08.jsonl
//	archive/alerts/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
