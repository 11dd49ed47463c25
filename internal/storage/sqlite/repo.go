// Package sqlite implements the file-based destination using database/sql
// and the modernc.org/sqlite driver. Upserts use INSERT .. ON CONFLICT DO
// UPDATE inside one transaction per chunk; SQLite has no bulk-load API, but
// per-chunk transactions keep throughput acceptable for this data volume.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"f1etl/internal/model"
	"f1etl/internal/storage"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, func(), error) {
		db, err := Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
		}
		return New(db), func() { _ = db.Close() }, nil
	})
}

// Open opens a SQLite database at the given path. ":memory:" yields a
// shared-cache in-memory database pinned to a single connection so that the
// pool does not silently create independent databases. Foreign keys are
// enabled via pragma on every connection.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path must not be empty")
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Repository is the SQLite-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Repository { return &Repository{db: db} }

// schemaDDL creates the three destination tables plus the indexes the read
// paths use. Every statement is IF NOT EXISTS, so the whole script is
// idempotent.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS drivers (
		driver_id        TEXT PRIMARY KEY,
		permanent_number INTEGER,
		code             TEXT,
		given_name       TEXT NOT NULL,
		family_name      TEXT NOT NULL,
		date_of_birth    TEXT,
		nationality      TEXT,
		created_at       TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drivers_code ON drivers (code)`,
	`CREATE INDEX IF NOT EXISTS idx_drivers_name ON drivers (given_name, family_name)`,

	`CREATE TABLE IF NOT EXISTS constructors (
		constructor_id TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		nationality    TEXT,
		created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_constructors_name ON constructors (name)`,
	`CREATE INDEX IF NOT EXISTS idx_constructors_nationality ON constructors (nationality)`,

	`CREATE TABLE IF NOT EXISTS qualifying_results (
		season         INTEGER NOT NULL,
		round          INTEGER NOT NULL,
		circuit_id     TEXT NOT NULL,
		position       INTEGER NOT NULL,
		driver_id      TEXT NOT NULL REFERENCES drivers (driver_id),
		constructor_id TEXT NOT NULL REFERENCES constructors (constructor_id),
		q1             TEXT,
		q2             TEXT,
		q3             TEXT,
		created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (season, round, driver_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_qualifying_position
		ON qualifying_results (season, round, position)`,
	`CREATE INDEX IF NOT EXISTS idx_qualifying_season ON qualifying_results (season)`,
	`CREATE INDEX IF NOT EXISTS idx_qualifying_circuit ON qualifying_results (circuit_id)`,
}

// EnsureSchema creates the tables and indexes if absent. Idempotent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertChunk upserts the chunk inside a single transaction. The insert/
// update split comes from probing which natural keys already exist before
// writing; the probe runs in the same transaction, so the split is exact
// under the pipeline's single-writer assumption.
func (r *Repository) UpsertChunk(ctx context.Context, spec model.TableSpec, rows [][]any) (int64, int64, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	for _, row := range rows {
		if len(row) != len(spec.Columns) {
			return 0, 0, fmt.Errorf("sqlite: %s: row width %d != %d columns", spec.Name, len(row), len(spec.Columns))
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after Commit

	existing, err := countExisting(ctx, tx, spec, rows)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: %s: probe keys: %w", spec.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL(spec))
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: %s: prepare upsert: %w", spec.Name, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, 0, fmt.Errorf("sqlite: %s: row %d: %w", spec.Name, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("sqlite: %s: commit: %w", spec.Name, err)
	}

	updated := existing
	inserted := int64(len(rows)) - existing
	return inserted, updated, nil
}

// upsertSQL builds INSERT .. ON CONFLICT (keys) DO UPDATE SET for the table.
func upsertSQL(spec model.TableSpec) string {
	cols := quoteAll(spec.Columns)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	sets := make([]string, 0, len(spec.Columns))
	for _, c := range spec.NonKeyColumns() {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}
	sets = append(sets, `updated_at = CURRENT_TIMESTAMP`)

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		quote(spec.Name),
		strings.Join(cols, ", "),
		marks,
		strings.Join(quoteAll(spec.KeyColumns), ", "),
		strings.Join(sets, ", "),
	)
}

// countExisting counts how many of the chunk's natural keys are already
// present. Single-column keys use a plain IN list; composite keys use row
// values, available in every SQLite this driver ships.
func countExisting(ctx context.Context, tx *sql.Tx, spec model.TableSpec, rows [][]any) (int64, error) {
	keyIdx := keyIndexes(spec)

	var (
		query string
		args  []any
	)
	if len(keyIdx) == 1 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(rows)), ", ")
		query = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IN (%s)",
			quote(spec.Name), quote(spec.KeyColumns[0]), marks)
		for _, row := range rows {
			args = append(args, row[keyIdx[0]])
		}
	} else {
		tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(keyIdx)), ", ") + ")"
		tuples := strings.TrimSuffix(strings.Repeat(tuple+", ", len(rows)), ", ")
		query = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE (%s) IN (VALUES %s)",
			quote(spec.Name), strings.Join(quoteAll(spec.KeyColumns), ", "), tuples)
		for _, row := range rows {
			for _, k := range keyIdx {
				args = append(args, row[k])
			}
		}
	}

	var n int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// keyIndexes maps spec.KeyColumns to their positions in spec.Columns.
func keyIndexes(spec model.TableSpec) []int {
	idx := make([]int, 0, len(spec.KeyColumns))
	for _, k := range spec.KeyColumns {
		for i, c := range spec.Columns {
			if c == k {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

const fetchResultsSQL = `
SELECT q.season, q.round, q.circuit_id, q.position,
       d.driver_id, COALESCE(d.code, ''), d.given_name, d.family_name, COALESCE(d.nationality, ''),
       c.constructor_id, c.name,
       COALESCE(q.q1, ''), COALESCE(q.q2, ''), COALESCE(q.q3, '')
FROM qualifying_results q
JOIN drivers d ON d.driver_id = q.driver_id
JOIN constructors c ON c.constructor_id = q.constructor_id`

// FetchResults reads back joined qualifying rows, newest first.
func (r *Repository) FetchResults(ctx context.Context, season, limit int) ([]storage.ResultRow, error) {
	query := fetchResultsSQL
	var args []any
	if season > 0 {
		query += " WHERE q.season = ?"
		args = append(args, season)
	}
	query += " ORDER BY q.season DESC, q.round DESC, q.position ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch results: %w", err)
	}
	defer rows.Close()

	var out []storage.ResultRow
	for rows.Next() {
		var rr storage.ResultRow
		if err := rows.Scan(
			&rr.Season, &rr.Round, &rr.CircuitID, &rr.Position,
			&rr.DriverID, &rr.Code, &rr.GivenName, &rr.FamilyName, &rr.Nationality,
			&rr.ConstructorID, &rr.ConstructorName,
			&rr.Q1, &rr.Q2, &rr.Q3,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan result: %w", err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: fetch results: %w", err)
	}
	return out, nil
}

// Exec runs a raw statement.
func (r *Repository) Exec(ctx context.Context, sqlStmt string) error {
	_, err := r.db.ExecContext(ctx, sqlStmt)
	return err
}

func quote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func quoteAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = quote(id)
	}
	return out
}
