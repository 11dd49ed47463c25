// Package mysql implements the destination on go-sql-driver/mysql. Upserts
// use INSERT .. ON DUPLICATE KEY UPDATE; MySQL has no conflict-target clause,
// so the natural keys must be the table's PRIMARY KEY, which the DDL here
// guarantees.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"f1etl/internal/model"
	"f1etl/internal/storage"
)

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, func(), error) {
		db, err := Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("mysql: ping: %w", err)
		}
		return New(db), func() { _ = db.Close() }, nil
	})
}

// Open validates the DSN and opens a pool. parseTime is forced on so DATE
// columns scan into time.Time.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Repository is the MySQL-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Repository { return &Repository{db: db} }

var schemaDDL = []string{
	"CREATE TABLE IF NOT EXISTS `drivers` (" + `
		driver_id        VARCHAR(64) PRIMARY KEY,
		permanent_number INT NULL,
		code             VARCHAR(8) NULL,
		given_name       VARCHAR(128) NOT NULL,
		family_name      VARCHAR(128) NOT NULL,
		date_of_birth    DATE NULL,
		nationality      VARCHAR(64) NULL,
		created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_drivers_code (code),
		INDEX idx_drivers_name (given_name, family_name)
	) ENGINE=InnoDB`,

	"CREATE TABLE IF NOT EXISTS `constructors` (" + `
		constructor_id VARCHAR(64) PRIMARY KEY,
		name           VARCHAR(128) NOT NULL,
		nationality    VARCHAR(64) NULL,
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_constructors_name (name),
		INDEX idx_constructors_nationality (nationality)
	) ENGINE=InnoDB`,

	"CREATE TABLE IF NOT EXISTS `qualifying_results` (" + `
		season         INT NOT NULL,
		round          INT NOT NULL,
		circuit_id     VARCHAR(64) NOT NULL,
		position       INT NOT NULL,
		driver_id      VARCHAR(64) NOT NULL,
		constructor_id VARCHAR(64) NOT NULL,
		q1             VARCHAR(16) NULL,
		q2             VARCHAR(16) NULL,
		q3             VARCHAR(16) NULL,
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (season, round, driver_id),
		UNIQUE KEY uq_qualifying_position (season, round, position),
		KEY idx_qualifying_circuit (circuit_id),
		CONSTRAINT fk_qualifying_driver FOREIGN KEY (driver_id) REFERENCES drivers (driver_id),
		CONSTRAINT fk_qualifying_constructor FOREIGN KEY (constructor_id) REFERENCES constructors (constructor_id)
	) ENGINE=InnoDB`,
}

// EnsureSchema creates the tables if absent. Idempotent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertChunk upserts the chunk inside one transaction, with the same
// probe-then-write split as the other backends.
func (r *Repository) UpsertChunk(ctx context.Context, spec model.TableSpec, rows [][]any) (int64, int64, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	for _, row := range rows {
		if len(row) != len(spec.Columns) {
			return 0, 0, fmt.Errorf("mysql: %s: row width %d != %d columns", spec.Name, len(row), len(spec.Columns))
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("mysql: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after Commit

	existing, err := countExisting(ctx, tx, spec, rows)
	if err != nil {
		return 0, 0, fmt.Errorf("mysql: %s: probe keys: %w", spec.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL(spec))
	if err != nil {
		return 0, 0, fmt.Errorf("mysql: %s: prepare upsert: %w", spec.Name, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, 0, fmt.Errorf("mysql: %s: row %d: %w", spec.Name, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("mysql: %s: commit: %w", spec.Name, err)
	}

	updated := existing
	inserted := int64(len(rows)) - existing
	return inserted, updated, nil
}

// upsertSQL builds INSERT .. ON DUPLICATE KEY UPDATE. The VALUES() function
// was deprecated in 8.0.20; the alias form works on every 8.x.
func upsertSQL(spec model.TableSpec) string {
	cols := quoteAll(spec.Columns)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	sets := make([]string, 0, len(spec.Columns))
	for _, c := range spec.NonKeyColumns() {
		sets = append(sets, fmt.Sprintf("%s = new.%s", quote(c), quote(c)))
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) AS new ON DUPLICATE KEY UPDATE %s",
		quote(spec.Name),
		strings.Join(cols, ", "),
		marks,
		strings.Join(sets, ", "),
	)
}

// countExisting counts the chunk's natural keys already present. MySQL has
// no row-value IN (VALUES ...), so composite keys use an OR of tuples.
func countExisting(ctx context.Context, tx *sql.Tx, spec model.TableSpec, rows [][]any) (int64, error) {
	keyIdx := keyIndexes(spec)

	var (
		where strings.Builder
		args  []any
	)
	if len(keyIdx) == 1 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(rows)), ", ")
		fmt.Fprintf(&where, "%s IN (%s)", quote(spec.KeyColumns[0]), marks)
		for _, row := range rows {
			args = append(args, row[keyIdx[0]])
		}
	} else {
		tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(keyIdx)), ", ") + ")"
		for i, row := range rows {
			if i > 0 {
				where.WriteString(" OR ")
			}
			fmt.Fprintf(&where, "(%s) = %s", strings.Join(quoteAll(spec.KeyColumns), ", "), tuple)
			for _, k := range keyIdx {
				args = append(args, row[k])
			}
		}
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", quote(spec.Name), where.String())
	var n int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
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
		return nil, fmt.Errorf("mysql: fetch results: %w", err)
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
			return nil, fmt.Errorf("mysql: scan result: %w", err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: fetch results: %w", err)
	}
	return out, nil
}

// Exec runs a raw statement.
func (r *Repository) Exec(ctx context.Context, sqlStmt string) error {
	_, err := r.db.ExecContext(ctx, sqlStmt)
	return err
}

func quote(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func quoteAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = quote(id)
	}
	return out
}
