package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perpwatch/engine/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an AlertStore backed by the given pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, fill_id, account_address, subaccount_number, rank,
	alert_type, severity, message, threshold_value, actual_value,
	window_hours, metadata, created_at`

func scanAlertRows(rows pgx.Rows) ([]domain.TopTraderAlert, error) {
	var alerts []domain.TopTraderAlert
	for rows.Next() {
		var (
			a    domain.TopTraderAlert
			meta []byte
		)
		if err := rows.Scan(
			&a.ID, &a.FillID, &a.AccountAddress, &a.SubaccountNumber, &a.Rank,
			&a.Type, &a.Severity, &a.Message, &a.ThresholdValue, &a.ActualValue,
			&a.WindowHours, &meta, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for alert %s: %w", a.ID, err)
			}
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Insert stores a single alert.
func (s *AlertStore) Insert(ctx context.Context, alert domain.TopTraderAlert) error {
	var meta []byte
	if len(alert.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(alert.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: encode alert metadata: %w", err)
		}
	}

	const query = `
		INSERT INTO trader_alerts (
			id, fill_id, account_address, subaccount_number, rank,
			alert_type, severity, message, threshold_value, actual_value,
			window_hours, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		alert.ID, alert.FillID, alert.AccountAddress, alert.SubaccountNumber, alert.Rank,
		string(alert.Type), string(alert.Severity), alert.Message,
		alert.ThresholdValue, alert.ActualValue,
		alert.WindowHours, meta, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert: %w", err)
	}
	return nil
}

// ListRecent returns the newest alerts, newest first.
func (s *AlertStore) ListRecent(ctx context.Context, limit int) ([]domain.TopTraderAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM trader_alerts ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent alerts: %w", err)
	}
	return alerts, nil
}

// ListBefore returns alerts created strictly before the cutoff, oldest
// first, for archiving.
func (s *AlertStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TopTraderAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM trader_alerts
		WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts before: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// DeleteBefore removes alerts created strictly before the cutoff and returns
// the number deleted.
func (s *AlertStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trader_alerts WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.AlertStore = (*AlertStore)(nil)
