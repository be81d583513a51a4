package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err)
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	left_id INTEGER NOT NULL,
	right_id INTEGER NOT NULL,
	predicted_class INTEGER NOT NULL,
	class_to_explain INTEGER NOT NULL,
	match_score REAL NOT NULL,
	flipped INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_entries (
	run_id TEXT NOT NULL,
	rank INTEGER NOT NULL,
	subset TEXT NOT NULL,
	score REAL NOT NULL,
	flips INTEGER NOT NULL,
	counterfactuals INTEGER NOT NULL,
	PRIMARY KEY(run_id, rank),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS run_triangles (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	side TEXT NOT NULL,
	free_id INTEGER NOT NULL,
	pivot_id INTEGER NOT NULL,
	support_id INTEGER NOT NULL,
	support_label INTEGER NOT NULL,
	PRIMARY KEY(run_id, seq),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_pair ON runs(left_id, right_id);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or replaces a run with its entries and triangles
func (s *sqliteStore) SaveRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run id required", internalerr.ErrInvalidInput)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, left_id, right_id, predicted_class, class_to_explain, match_score, flipped, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	left_id=excluded.left_id,
	right_id=excluded.right_id,
	predicted_class=excluded.predicted_class,
	class_to_explain=excluded.class_to_explain,
	match_score=excluded.match_score,
	flipped=excluded.flipped,
	created_at=excluded.created_at;
`, r.ID, r.LeftID, r.RightID, r.PredictedClass, r.ClassToExplain, r.MatchScore, r.Flipped,
		created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	if err := replaceEntries(ctx, tx, r.ID, r.Entries); err != nil {
		return err
	}
	if err := replaceTriangles(ctx, tx, r.ID, r.Triangles); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceEntries(ctx context.Context, tx *sql.Tx, runID string, entries []store.Entry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_entries WHERE run_id=?`, runID); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO run_entries (run_id, rank, subset, score, flips, counterfactuals)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, runID, i, e.Key, e.Score, e.Flips, e.Counterfactuals); err != nil {
			return err
		}
	}
	return nil
}

func replaceTriangles(ctx context.Context, tx *sql.Tx, runID string, tris []store.TriangleRow) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_triangles WHERE run_id=?`, runID); err != nil {
		return err
	}
	if len(tris) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO run_triangles (run_id, seq, side, free_id, pivot_id, support_id, support_label)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range tris {
		if _, err := stmt.ExecContext(ctx, runID, i, t.Side, t.FreeID, t.PivotID, t.SupportID, t.SupportLabel); err != nil {
			return err
		}
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *sqliteStore) GetRun(ctx context.Context, id string) (store.Run, bool, error) {
	r, err := s.loadRun(ctx, id)
	if err == sql.ErrNoRows {
		return store.Run{}, false, nil
	}
	if err != nil {
		return store.Run{}, false, err
	}
	return r, true, nil
}

// ListRuns returns the most recent runs. ULID ids sort by creation time.
func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	runs := make([]store.Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.loadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

func (s *sqliteStore) loadRun(ctx context.Context, id string) (store.Run, error) {
	var (
		r       store.Run
		created string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, left_id, right_id, predicted_class, class_to_explain, match_score, flipped, created_at
FROM runs
WHERE id = ?;
`, id).Scan(&r.ID, &r.LeftID, &r.RightID, &r.PredictedClass, &r.ClassToExplain, &r.MatchScore, &r.Flipped, &created)
	if err != nil {
		return store.Run{}, err
	}
	if parsed, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		r.CreatedAt = parsed
	}

	r.Entries, err = s.loadEntries(ctx, id)
	if err != nil {
		return store.Run{}, err
	}
	r.Triangles, err = s.loadTriangles(ctx, id)
	if err != nil {
		return store.Run{}, err
	}
	return r, nil
}

func (s *sqliteStore) loadEntries(ctx context.Context, runID string) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT subset, score, flips, counterfactuals
FROM run_entries
WHERE run_id=?
ORDER BY rank`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Score, &e.Flips, &e.Counterfactuals); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) loadTriangles(ctx context.Context, runID string) ([]store.TriangleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT side, free_id, pivot_id, support_id, support_label
FROM run_triangles
WHERE run_id=?
ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tris []store.TriangleRow
	for rows.Next() {
		var t store.TriangleRow
		if err := rows.Scan(&t.Side, &t.FreeID, &t.PivotID, &t.SupportID, &t.SupportLabel); err != nil {
			return nil, err
		}
		tris = append(tris, t)
	}
	return tris, rows.Err()
}
