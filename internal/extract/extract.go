// Package extract reads raw qualifying rows from delimited files. It is the
// E of the pipeline: no cleaning or validation happens here, only parsing
// into header-keyed string maps. Rows with the wrong field count are
// soft-skipped and counted so a single mangled line never aborts a run.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// RawRow is one extracted record: raw string values keyed by canonical
// column name, plus the 1-based source line for diagnostics.
type RawRow struct {
	Line   int
	Fields map[string]string
}

// Get returns the named field, or "" when the column is absent.
func (r RawRow) Get(key string) string { return r.Fields[key] }

// Stats summarizes one extraction.
type Stats struct {
	RowsRead    int // data rows successfully parsed
	ParseErrors int // rows skipped due to malformed CSV or width mismatch
}

// DefaultHeaderMap maps the source CSV's CamelCase headers onto the
// canonical snake_case keys used throughout the pipeline. Headers already in
// canonical form pass through unchanged.
var DefaultHeaderMap = map[string]string{
	"Season":                 "season",
	"Round":                  "round",
	"CircuitID":              "circuit_id",
	"Position":               "position",
	"DriverID":               "driver_id",
	"Code":                   "code",
	"PermanentNumber":        "permanent_number",
	"GivenName":              "given_name",
	"FamilyName":             "family_name",
	"DateOfBirth":            "date_of_birth",
	"Nationality":            "nationality",
	"ConstructorID":          "constructor_id",
	"ConstructorName":        "constructor_name",
	"ConstructorNationality": "constructor_nationality",
	"Q1":                     "q1",
	"Q2":                     "q2",
	"Q3":                     "q3",
}

// Options configures the extractor. All fields except Path are optional.
type Options struct {
	// Path is the input CSV file.
	Path string

	// Comma is the field delimiter; ',' when zero.
	Comma rune

	// HeaderMap overrides DefaultHeaderMap when non-nil.
	HeaderMap map[string]string
}

// Extractor reads qualifying rows from a CSV file. It is cheap to construct
// and single-use per Extract call; it holds no open resources between calls.
type Extractor struct{ opt Options }

// New constructs an Extractor.
func New(opt Options) *Extractor {
	if opt.Comma == 0 {
		opt.Comma = ','
	}
	if opt.HeaderMap == nil {
		opt.HeaderMap = DefaultHeaderMap
	}
	return &Extractor{opt: opt}
}

// Extract opens the configured file and parses every data row. A row-level
// CSV error (wrong field count, bad quoting) skips that row and increments
// Stats.ParseErrors; an unreadable file or header is fatal.
//
// Parsing runs in a producer goroutine feeding a channel drained here, so a
// caller's context cancellation is honored mid-file. There is no overlap
// with later pipeline stages; the call returns only when the file is fully
// consumed.
func (e *Extractor) Extract(ctx context.Context) ([]RawRow, Stats, error) {
	f, err := os.Open(e.opt.Path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("extract: open %s: %w", e.opt.Path, err)
	}
	defer f.Close()
	return e.extractFrom(ctx, f)
}

type parsed struct {
	line   int
	record []string
	err    error
}

func (e *Extractor) extractFrom(ctx context.Context, r io.Reader) ([]RawRow, Stats, error) {
	cr := csv.NewReader(r)
	cr.Comma = e.opt.Comma
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		return nil, Stats{}, fmt.Errorf("extract: read header: %w", err)
	}
	keys := e.canonicalKeys(header)

	ch := make(chan parsed, 64)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		for line := 2; ; line++ {
			rec, err := cr.Read()
			if err == io.EOF {
				return nil
			}
			select {
			case ch <- parsed{line: line, record: rec, err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err != nil && !recoverable(err) {
				return nil // fatal parse error already forwarded
			}
		}
	})

	var (
		rows  []RawRow
		stats Stats
	)
	for p := range ch {
		if p.err != nil {
			if recoverable(p.err) {
				stats.ParseErrors++
				continue
			}
			_ = g.Wait()
			return rows, stats, fmt.Errorf("extract: line %d: %w", p.line, p.err)
		}
		fields := make(map[string]string, len(keys))
		for i, k := range keys {
			if i < len(p.record) {
				fields[k] = p.record[i]
			}
		}
		rows = append(rows, RawRow{Line: p.line, Fields: fields})
		stats.RowsRead++
	}
	if err := g.Wait(); err != nil {
		return rows, stats, fmt.Errorf("extract: %w", err)
	}
	return rows, stats, nil
}

// recoverable reports whether a csv error affects only one row.
func recoverable(err error) bool {
	return errors.Is(err, csv.ErrFieldCount) || errors.Is(err, csv.ErrQuote) ||
		errors.Is(err, csv.ErrBareQuote)
}

// canonicalKeys maps source headers to canonical keys: BOM stripped from the
// first cell, HeaderMap applied, everything else lowercased as-is.
func (e *Extractor) canonicalKeys(header []string) []string {
	keys := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if mapped, ok := e.opt.HeaderMap[h]; ok {
			keys[i] = mapped
			continue
		}
		keys[i] = strings.ToLower(h)
	}
	return keys
}
