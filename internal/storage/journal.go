package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"spotmirror/internal/models"

	_ "modernc.org/sqlite"
)

const journalSchema = `
-- One row per master event fanned out
CREATE TABLE IF NOT EXISTS mirror_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id TEXT NOT NULL,
    action TEXT NOT NULL,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mirror_runs_trade ON mirror_runs(trade_id);
CREATE INDEX IF NOT EXISTS idx_mirror_runs_created ON mirror_runs(created_at DESC);

-- Outcome per follower within a run
CREATE TABLE IF NOT EXISTS mirror_fills (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    profile_id TEXT NOT NULL,
    owner TEXT NOT NULL,
    status TEXT NOT NULL,
    order_id TEXT,
    amount TEXT,
    error TEXT,
    latency_ms INTEGER,
    created_at DATETIME NOT NULL,
    FOREIGN KEY(run_id) REFERENCES mirror_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_mirror_fills_run ON mirror_fills(run_id);
CREATE INDEX IF NOT EXISTS idx_mirror_fills_owner ON mirror_fills(owner);
`

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 50

// Journal is the audit trail of mirror runs, kept in SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenJournal opens (and migrates) the journal database at dbPath.
func OpenJournal(dbPath string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal db: %w", err)
	}

	logger.Info("✅ Mirror journal initialized", slog.String("path", dbPath))

	return &Journal{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// RecordRun stores a run with its fills in one transaction and returns the run id.
func (j *Journal) RecordRun(ctx context.Context, run models.MirrorRun) (int64, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin journal tx: %w", err)
	}
	defer tx.Rollback()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = j.now()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO mirror_runs (trade_id, action, pair, side, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.TradeID, run.Action, run.Pair, run.Side, run.Status, createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert mirror run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read mirror run id: %w", err)
	}

	for _, f := range run.Fills {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mirror_fills (run_id, profile_id, owner, status, order_id, amount, error, latency_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, f.ProfileID, f.Owner, f.Status, f.OrderID, f.Amount, f.Error, f.LatencyMs, createdAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert mirror fill: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit mirror run: %w", err)
	}

	return runID, nil
}

// History returns the most recent runs, newest first. A non-empty owner limits the result
// to runs touching that tenant's profiles, and only that tenant's fills are attached.
func (j *Journal) History(ctx context.Context, owner string, limit int) ([]models.MirrorRun, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT r.id, r.trade_id, r.action, r.pair, r.side, r.status, r.created_at
		FROM mirror_runs r`
	args := []any{}
	if owner != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM mirror_fills f WHERE f.run_id = r.id AND f.owner = ?)`
		args = append(args, owner)
	}
	query += ` ORDER BY r.created_at DESC, r.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror runs: %w", err)
	}
	defer rows.Close()

	runs := []models.MirrorRun{}
	for rows.Next() {
		var run models.MirrorRun
		if err := rows.Scan(&run.ID, &run.TradeID, &run.Action, &run.Pair, &run.Side, &run.Status, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mirror run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mirror runs: %w", err)
	}

	for i := range runs {
		fills, err := j.fills(ctx, runs[i].ID, owner)
		if err != nil {
			return nil, err
		}
		runs[i].Fills = fills
	}

	return runs, nil
}

func (j *Journal) fills(ctx context.Context, runID int64, owner string) ([]models.MirrorFill, error) {
	query := `
		SELECT id, run_id, profile_id, owner, status,
		       coalesce(order_id, ''), coalesce(amount, ''), coalesce(error, ''), coalesce(latency_ms, 0), created_at
		FROM mirror_fills
		WHERE run_id = ?`
	args := []any{runID}
	if owner != "" {
		query += ` AND owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror fills: %w", err)
	}
	defer rows.Close()

	var fills []models.MirrorFill
	for rows.Next() {
		var f models.MirrorFill
		err := rows.Scan(&f.ID, &f.RunID, &f.ProfileID, &f.Owner, &f.Status,
			&f.OrderID, &f.Amount, &f.Error, &f.LatencyMs, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mirror fill: %w", err)
		}
		fills = append(fills, f)
	}

	return fills, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
