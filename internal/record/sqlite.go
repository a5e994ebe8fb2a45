package record

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the audit trail in a local SQLite database so the
// trail survives daemon restarts.
type SQLiteStore struct {
	db        *sql.DB
	retention int
}

// OpenSQLite opens (creating if necessary) the record database at path.
func OpenSQLite(path string, retention int) (*SQLiteStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS reconciliation_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	deployment TEXT NOT NULL,
	generation INTEGER NOT NULL,
	action TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_deployment ON reconciliation_records (deployment, id);
`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure record schema: %w", err)
	}

	return &SQLiteStore{db: db, retention: retention}, nil
}

var _ Store = (*SQLiteStore)(nil)

// Append implements Store. The insert and retention prune run in one
// transaction so a crash cannot leave the trail over-length.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO reconciliation_records (deployment, generation, action, outcome, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Deployment, rec.Generation, rec.Action, string(rec.Outcome), rec.Detail,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM reconciliation_records
WHERE deployment = ?
  AND id NOT IN (
	SELECT id FROM reconciliation_records
	WHERE deployment = ?
	ORDER BY id DESC
	LIMIT ?
  )`, rec.Deployment, rec.Deployment, s.retention); err != nil {
		return fmt.Errorf("prune records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record append: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, deployment string, limit int) ([]Record, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT deployment, generation, action, outcome, detail, created_at
FROM reconciliation_records
WHERE deployment = ?
ORDER BY id DESC
LIMIT ?`, deployment, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Last implements Store.
func (s *SQLiteStore) Last(ctx context.Context, deployment string) (Record, bool, error) {
	records, err := s.List(ctx, deployment, 1)
	if err != nil {
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return records[0], true, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var outcome, createdAt string
	if err := rows.Scan(&rec.Deployment, &rec.Generation, &rec.Action, &outcome, &rec.Detail, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Outcome = Outcome(outcome)

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse record timestamp: %w", err)
	}
	rec.Timestamp = parsed
	return rec, nil
}
