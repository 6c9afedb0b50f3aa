package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS mirror_ledger (
    trade_id TEXT NOT NULL,
    profile_id TEXT NOT NULL,
    pair TEXT NOT NULL,
    amount TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (trade_id, profile_id)
);
`

// SQLiteStore keeps one row per (trade, follower). Amounts are stored as decimal text.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger db: %w", err)
	}

	logger.Info("✅ Mirror ledger database initialized", slog.String("path", path))

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Accumulate(ctx context.Context, tradeID, profileID, pair string, amount decimal.Decimal) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	cur, found, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT pair, amount FROM mirror_ledger
		WHERE trade_id = ? AND profile_id = ?
	`, tradeID, profileID))
	if err != nil {
		return Entry{}, err
	}
	if !found {
		cur = Entry{Pair: pair, Amount: decimal.Zero}
	}
	cur.Amount = cur.Amount.Add(amount)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mirror_ledger (trade_id, profile_id, pair, amount, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(trade_id, profile_id) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at
	`, tradeID, profileID, cur.Pair, cur.Amount.String())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to write ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("failed to commit ledger entry: %w", err)
	}

	return cur, nil
}

func (s *SQLiteStore) Get(ctx context.Context, tradeID, profileID string) (Entry, bool, error) {
	return scanEntry(s.db.QueryRowContext(ctx, `
		SELECT pair, amount FROM mirror_ledger
		WHERE trade_id = ? AND profile_id = ?
	`, tradeID, profileID))
}

func (s *SQLiteStore) Remove(ctx context.Context, tradeID, profileID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	e, found, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT pair, amount FROM mirror_ledger
		WHERE trade_id = ? AND profile_id = ?
	`, tradeID, profileID))
	if err != nil || !found {
		return Entry{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM mirror_ledger WHERE trade_id = ? AND profile_id = ?
	`, tradeID, profileID); err != nil {
		return Entry{}, false, fmt.Errorf("failed to delete ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, false, fmt.Errorf("failed to commit ledger delete: %w", err)
	}

	return e, true, nil
}

func (s *SQLiteStore) Trade(ctx context.Context, tradeID string) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id, pair, amount FROM mirror_ledger
		WHERE trade_id = ?
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	out := map[string]Entry{}
	for rows.Next() {
		var profileID, pair, amount string
		if err := rows.Scan(&profileID, &pair, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}

		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("malformed ledger amount %q: %w", amount, err)
		}
		out[profileID] = Entry{Pair: pair, Amount: d}
	}

	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEntry(row *sql.Row) (Entry, bool, error) {
	var pair, amount string
	if err := row.Scan(&pair, &amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to read ledger entry: %w", err)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Entry{}, false, fmt.Errorf("malformed ledger amount %q: %w", amount, err)
	}

	return Entry{Pair: pair, Amount: d}, true, nil
}

var _ Store = (*SQLiteStore)(nil)
