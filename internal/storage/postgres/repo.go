// Package postgres implements the networked destination on jackc/pgx. Each
// chunk is one transaction built from a single multi-row INSERT .. ON
// CONFLICT DO UPDATE statement, which keeps round trips at two per chunk
// (key probe + write).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"f1etl/internal/model"
	"f1etl/internal/storage"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, func(), error) {
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: parse dsn: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres: ping: %w", err)
		}
		return New(pool, cfg.Schema), pool.Close, nil
	})
}

// Repository is the Postgres-backed implementation of storage.Repository.
// Tables are qualified with schema when it is non-empty.
type Repository struct {
	pool   *pgxpool.Pool
	schema string
}

// New wraps an already-open pool.
func New(pool *pgxpool.Pool, schema string) *Repository {
	return &Repository{pool: pool, schema: schema}
}

// schemaDDL mirrors the sqlite layout with Postgres types. created_at and
// updated_at are timestamptz; the upsert bumps updated_at on conflict.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS %[1]sdrivers (
		driver_id        TEXT PRIMARY KEY,
		permanent_number INTEGER,
		code             TEXT,
		given_name       TEXT NOT NULL,
		family_name      TEXT NOT NULL,
		date_of_birth    DATE,
		nationality      TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drivers_code ON %[1]sdrivers (code)`,
	`CREATE INDEX IF NOT EXISTS idx_drivers_name ON %[1]sdrivers (given_name, family_name)`,

	`CREATE TABLE IF NOT EXISTS %[1]sconstructors (
		constructor_id TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		nationality    TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_constructors_name ON %[1]sconstructors (name)`,
	`CREATE INDEX IF NOT EXISTS idx_constructors_nationality ON %[1]sconstructors (nationality)`,

	`CREATE TABLE IF NOT EXISTS %[1]squalifying_results (
		season         INTEGER NOT NULL,
		round          INTEGER NOT NULL,
		circuit_id     TEXT NOT NULL,
		position       INTEGER NOT NULL,
		driver_id      TEXT NOT NULL REFERENCES %[1]sdrivers (driver_id),
		constructor_id TEXT NOT NULL REFERENCES %[1]sconstructors (constructor_id),
		q1             TEXT,
		q2             TEXT,
		q3             TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (season, round, driver_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_qualifying_position
		ON %[1]squalifying_results (season, round, position)`,
	`CREATE INDEX IF NOT EXISTS idx_qualifying_season ON %[1]squalifying_results (season)`,
	`CREATE INDEX IF NOT EXISTS idx_qualifying_circuit ON %[1]squalifying_results (circuit_id)`,
}

// EnsureSchema creates the schema (when configured) and the tables if
// absent. Idempotent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r.schema != "" {
		if _, err := r.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(r.schema)); err != nil {
			return fmt.Errorf("postgres: create schema %s: %w", r.schema, err)
		}
	}
	prefix := r.tablePrefix()
	for _, tmpl := range schemaDDL {
		if _, err := r.pool.Exec(ctx, fmt.Sprintf(tmpl, prefix)); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertChunk writes the whole chunk with one multi-row statement inside a
// transaction. The insert/update split comes from probing existing keys in
// the same transaction.
func (r *Repository) UpsertChunk(ctx context.Context, spec model.TableSpec, rows [][]any) (int64, int64, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	for _, row := range rows {
		if len(row) != len(spec.Columns) {
			return 0, 0, fmt.Errorf("postgres: %s: row width %d != %d columns", spec.Name, len(row), len(spec.Columns))
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op after Commit

	existing, err := r.countExisting(ctx, tx, spec, rows)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: %s: probe keys: %w", spec.Name, err)
	}

	query, args := r.upsertSQL(spec, rows)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return 0, 0, fmt.Errorf("postgres: %s: upsert: %w", spec.Name, describe(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("postgres: %s: commit: %w", spec.Name, err)
	}

	updated := existing
	inserted := int64(len(rows)) - existing
	return inserted, updated, nil
}

// describe surfaces the violated constraint for integrity errors, which is
// what the loader logs when it rolls a chunk back.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("constraint %s: %w", pgErr.ConstraintName, err)
	}
	return err
}

// upsertSQL builds one multi-row INSERT .. ON CONFLICT (keys) DO UPDATE
// statement with $n placeholders, plus its flattened argument list.
func (r *Repository) upsertSQL(spec model.TableSpec, rows [][]any) (string, []any) {
	cols := quoteAll(spec.Columns)
	width := len(cols)

	var values strings.Builder
	args := make([]any, 0, len(rows)*width)
	for i, row := range rows {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteByte('(')
		for j := range row {
			if j > 0 {
				values.WriteString(", ")
			}
			fmt.Fprintf(&values, "$%d", i*width+j+1)
		}
		values.WriteByte(')')
		args = append(args, row...)
	}

	sets := make([]string, 0, width)
	for _, c := range spec.NonKeyColumns() {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}
	sets = append(sets, `updated_at = now()`)

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		r.tablePrefix()+quote(spec.Name),
		strings.Join(cols, ", "),
		values.String(),
		strings.Join(quoteAll(spec.KeyColumns), ", "),
		strings.Join(sets, ", "),
	)
	return query, args
}

// countExisting counts the chunk's natural keys already present, using a
// row-value IN (VALUES ...) probe.
func (r *Repository) countExisting(ctx context.Context, tx pgx.Tx, spec model.TableSpec, rows [][]any) (int64, error) {
	keyIdx := keyIndexes(spec)

	var values strings.Builder
	args := make([]any, 0, len(rows)*len(keyIdx))
	for i, row := range rows {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteByte('(')
		for j, k := range keyIdx {
			if j > 0 {
				values.WriteString(", ")
			}
			fmt.Fprintf(&values, "$%d", i*len(keyIdx)+j+1)
			args = append(args, row[k])
		}
		values.WriteByte(')')
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE (%s) IN (VALUES %s)",
		r.tablePrefix()+quote(spec.Name),
		strings.Join(quoteAll(spec.KeyColumns), ", "),
		values.String())

	var n int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

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
FROM %[1]squalifying_results q
JOIN %[1]sdrivers d ON d.driver_id = q.driver_id
JOIN %[1]sconstructors c ON c.constructor_id = q.constructor_id`

// FetchResults reads back joined qualifying rows, newest first.
func (r *Repository) FetchResults(ctx context.Context, season, limit int) ([]storage.ResultRow, error) {
	query := fmt.Sprintf(fetchResultsSQL, r.tablePrefix())
	var args []any
	if season > 0 {
		args = append(args, season)
		query += fmt.Sprintf(" WHERE q.season = $%d", len(args))
	}
	query += " ORDER BY q.season DESC, q.round DESC, q.position ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch results: %w", err)
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
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fetch results: %w", err)
	}
	return out, nil
}

// Exec runs a raw statement.
func (r *Repository) Exec(ctx context.Context, sqlStmt string) error {
	_, err := r.pool.Exec(ctx, sqlStmt)
	return err
}

func (r *Repository) tablePrefix() string {
	if r.schema == "" {
		return ""
	}
	return quote(r.schema) + "."
}

func quote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func quoteAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = quote(id)
	}
	return out
}
