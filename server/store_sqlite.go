package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scopes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	name TEXT,
	source BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	scope_id TEXT,
	status TEXT NOT NULL,
	error TEXT,
	inputs BLOB,
	outputs BLOB,
	trace BLOB,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_scope ON runs(scope_id);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);`

// sqliteTimeLayout is RFC 3339 with fixed-width nanoseconds. Timestamps are
// compared as strings in SQL (DeleteRunsBefore), and RFC3339Nano trims
// trailing fractional zeros, which breaks lexicographic ordering at
// sub-second boundaries.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists scope documents and run records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListScopes(ctx context.Context) ([]ScopeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, source, created_at, updated_at FROM scopes ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("sqlite list scopes: %w", err)
	}
	defer rows.Close()

	var out []ScopeRecord
	for rows.Next() {
		rec, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetScope(ctx context.Context, id string) (ScopeRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, source, created_at, updated_at FROM scopes WHERE id = ?", id)

	rec, err := scanScope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScopeRecord{}, false, nil
	}
	if err != nil {
		return ScopeRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) CreateScope(ctx context.Context, rec ScopeRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO scopes (id, name, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.Name, []byte(rec.Source),
		rec.CreatedAt.UTC().Format(sqliteTimeLayout),
		rec.UpdatedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrScopeExists
		}
		return fmt.Errorf("sqlite create scope: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateScope(ctx context.Context, rec ScopeRecord) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE scopes SET name = ?, source = ?, updated_at = ? WHERE id = ?",
		rec.Name, []byte(rec.Source),
		rec.UpdatedAt.UTC().Format(sqliteTimeLayout), rec.ID)
	if err != nil {
		return fmt.Errorf("sqlite update scope: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrScopeNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteScope(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scopes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite delete scope: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrScopeNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, scopeID string) ([]RunRecord, error) {
	query := "SELECT id, scope_id, status, error, inputs, outputs, trace, started_at, finished_at FROM runs"
	args := []any{}
	if scopeID != "" {
		query += " WHERE scope_id = ?"
		args = append(args, scopeID)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, scope_id, status, error, inputs, outputs, trace, started_at, finished_at FROM runs WHERE id = ?", id)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, scope_id, status, error, inputs, outputs, trace, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.ScopeID, rec.Status, rec.Error,
		[]byte(rec.Inputs), []byte(rec.Outputs), []byte(rec.Trace),
		rec.StartedAt.UTC().Format(sqliteTimeLayout),
		rec.FinishedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("sqlite create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE finished_at < ?",
		cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("sqlite delete runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScope(row rowScanner) (ScopeRecord, error) {
	var rec ScopeRecord
	var name sql.NullString
	var source []byte
	var createdAt, updatedAt string

	if err := row.Scan(&rec.ID, &name, &source, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScopeRecord{}, err
		}
		return ScopeRecord{}, fmt.Errorf("sqlite scan scope: %w", err)
	}

	rec.Name = name.String
	rec.Source = json.RawMessage(source)

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return ScopeRecord{}, fmt.Errorf("sqlite scan scope created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return ScopeRecord{}, fmt.Errorf("sqlite scan scope updated_at: %w", err)
	}
	return rec, nil
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var scopeID, errText sql.NullString
	var inputs, outputs, trace []byte
	var startedAt, finishedAt string

	if err := row.Scan(&rec.ID, &scopeID, &rec.Status, &errText, &inputs, &outputs, &trace, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("sqlite scan run: %w", err)
	}

	rec.ScopeID = scopeID.String
	rec.Error = errText.String
	rec.Inputs = json.RawMessage(inputs)
	rec.Outputs = json.RawMessage(outputs)
	rec.Trace = json.RawMessage(trace)

	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return RunRecord{}, fmt.Errorf("sqlite scan run started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return RunRecord{}, fmt.Errorf("sqlite scan run finished_at: %w", err)
	}
	return rec, nil
}

var _ Store = (*SQLiteStore)(nil)
