// Package storage contains the storage-agnostic contracts of the load stage:
// the Repository interface every destination implements, a factory registry
// keyed by destination kind, and the generic chunked upsert loader.
//
// Concrete backends live in subpackages (sqlite, postgres, mysql) and
// register themselves at init time; importing storage/all enables all of
// them. Callers select a backend purely by configuration.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"f1etl/internal/model"
)

// Config selects and parameterizes a destination.
type Config struct {
	// Kind names a registered backend: "sqlite", "postgres", "mysql".
	Kind string
	// DSN is backend-specific: a file path for sqlite, a network DSN for
	// postgres/mysql.
	DSN string
	// Schema optionally qualifies table names (postgres only).
	Schema string
}

// ResultRow is one qualifying result joined with its driver and constructor,
// as read back from a destination. Optional columns are empty strings.
type ResultRow struct {
	Season          int
	Round           int
	CircuitID       string
	Position        int
	DriverID        string
	Code            string
	GivenName       string
	FamilyName      string
	Nationality     string
	ConstructorID   string
	ConstructorName string
	Q1              string
	Q2              string
	Q3              string
}

// Repository is the contract between the loader and a destination store.
// Implementations must make EnsureSchema idempotent and must run each
// UpsertChunk call inside a single transaction: either every row in the
// chunk lands or none does.
type Repository interface {
	// EnsureSchema creates the drivers, constructors, and qualifying_results
	// tables (plus indexes) if absent. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error

	// UpsertChunk inserts-or-updates rows (positionally aligned to
	// spec.Columns) keyed by spec.KeyColumns, in one transaction. It reports
	// how many rows were newly inserted vs. updated. On error the
	// transaction is rolled back and no row of the chunk is persisted.
	UpsertChunk(ctx context.Context, spec model.TableSpec, rows [][]any) (inserted, updated int64, err error)

	// FetchResults reads back qualifying results joined with driver and
	// constructor data, newest season/round first, position ascending.
	// season == 0 means all seasons; limit <= 0 means no limit.
	FetchResults(ctx context.Context, season, limit int) ([]ResultRow, error)

	// Exec runs a raw statement. Used by schema bootstrap and tests.
	Exec(ctx context.Context, sql string) error
}

// Factory opens a Repository for a Config and returns a cleanup function.
type Factory func(ctx context.Context, cfg Config) (Repository, func(), error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for a destination kind.
// Called from backend packages' init functions.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered destination kinds, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository for cfg.Kind. A connection failure here is fatal
// for the destination: the caller is expected to skip it and move on to the
// other configured destinations.
func New(ctx context.Context, cfg Config) (Repository, func(), error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("storage: unknown destination kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	repo, closeFn, err := f(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: connect %s: %w", cfg.Kind, err)
	}
	return repo, closeFn, nil
}
