package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perpwatch/engine/internal/domain"
)

// LeaderboardStore implements domain.LeaderboardStore using PostgreSQL.
type LeaderboardStore struct {
	pool *pgxpool.Pool
}

// NewLeaderboardStore creates a LeaderboardStore backed by the given pool.
func NewLeaderboardStore(pool *pgxpool.Pool) *LeaderboardStore {
	return &LeaderboardStore{pool: pool}
}

const topTraderSelectCols = `account_address, subaccount_number, rank, score,
	realized_pnl, net_pnl, fill_count, turnover,
	window_start, window_end, observed_at`

func scanTopTraderRows(rows pgx.Rows) ([]domain.TopTrader, error) {
	var traders []domain.TopTrader
	for rows.Next() {
		var t domain.TopTrader
		if err := rows.Scan(
			&t.AccountAddress, &t.SubaccountNumber, &t.Rank, &t.Score,
			&t.RealizedPnl, &t.NetPnl, &t.FillCount, &t.Turnover,
			&t.WindowStart, &t.WindowEnd, &t.ObservedAt,
		); err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// SaveTopN upserts a ranked batch. Rows whose (account, subaccount,
// window_end) identity collides with a new entry are replaced, so re-running
// a ranking over the same window is idempotent.
func (s *LeaderboardStore) SaveTopN(ctx context.Context, entries []domain.TopTrader) error {
	if len(entries) == 0 {
		return nil
	}

	const query = `
		INSERT INTO top_traders (
			account_address, subaccount_number, rank, score,
			realized_pnl, net_pnl, fill_count, turnover,
			window_start, window_end, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_address, subaccount_number, window_end) DO UPDATE SET
			rank = EXCLUDED.rank,
			score = EXCLUDED.score,
			realized_pnl = EXCLUDED.realized_pnl,
			net_pnl = EXCLUDED.net_pnl,
			fill_count = EXCLUDED.fill_count,
			turnover = EXCLUDED.turnover,
			window_start = EXCLUDED.window_start,
			observed_at = EXCLUDED.observed_at`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query,
			e.AccountAddress, e.SubaccountNumber, e.Rank, e.Score,
			e.RealizedPnl, e.NetPnl, e.FillCount, e.Turnover,
			e.WindowStart, e.WindowEnd, e.ObservedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: save top trader %d: %w", i, err)
		}
	}
	return nil
}

// TopTraders returns the entries of the most recent ranking window, rank
// ascending. n <= 0 returns the whole window.
func (s *LeaderboardStore) TopTraders(ctx context.Context, n int) ([]domain.TopTrader, error) {
	query := `SELECT ` + topTraderSelectCols + ` FROM top_traders
		WHERE window_end = (SELECT MAX(window_end) FROM top_traders)
		ORDER BY rank ASC`
	args := []any{}
	if n > 0 {
		query += " LIMIT $1"
		args = append(args, n)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list top traders: %w", err)
	}
	defer rows.Close()

	traders, err := scanTopTraderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan top traders: %w", err)
	}
	return traders, nil
}

// KnownAddresses returns remembered accounts in first-observed order.
func (s *LeaderboardStore) KnownAddresses(ctx context.Context, limit int) ([]domain.AccountKey, error) {
	query := `SELECT account_address, subaccount_number FROM known_addresses
		ORDER BY first_seen_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list known addresses: %w", err)
	}
	defer rows.Close()

	var accounts []domain.AccountKey
	for rows.Next() {
		var acct domain.AccountKey
		if err := rows.Scan(&acct.Address, &acct.Subaccount); err != nil {
			return nil, fmt.Errorf("postgres: scan known address: %w", err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate known addresses: %w", err)
	}
	return accounts, nil
}

// RememberAddresses inserts accounts not yet known. Existing rows keep their
// original first_seen_at, preserving first-observed order across runs.
func (s *LeaderboardStore) RememberAddresses(ctx context.Context, accounts []domain.AccountKey) error {
	if len(accounts) == 0 {
		return nil
	}

	const query = `
		INSERT INTO known_addresses (account_address, subaccount_number)
		VALUES ($1, $2)
		ON CONFLICT (account_address, subaccount_number) DO NOTHING`

	batch := &pgx.Batch{}
	for _, acct := range accounts {
		batch.Queue(query, acct.Address, acct.Subaccount)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range accounts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: remember address %d: %w", i, err)
		}
	}
	return nil
}

// ListBefore returns leaderboard rows observed strictly before the cutoff,
// oldest first, for archiving.
func (s *LeaderboardStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TopTrader, error) {
	query := `SELECT ` + topTraderSelectCols + ` FROM top_traders
		WHERE observed_at < $1 ORDER BY observed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list top traders before: %w", err)
	}
	defer rows.Close()
	return scanTopTraderRows(rows)
}

// DeleteBefore removes leaderboard rows observed strictly before the cutoff
// and returns the number deleted.
func (s *LeaderboardStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM top_traders WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete top traders before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.LeaderboardStore = (*LeaderboardStore)(nil)
