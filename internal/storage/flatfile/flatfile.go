// Package flatfile writes cleaned qualifying results back out as a CSV with
// the same CamelCase column layout the extractor reads, so a written file
// round-trips through the pipeline unchanged.
package flatfile

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"f1etl/internal/model"
)

// Header is the output column order. It mirrors the source layout.
var Header = []string{
	"Season", "Round", "CircuitID", "Position",
	"DriverID", "Code", "PermanentNumber", "GivenName", "FamilyName",
	"DateOfBirth", "Nationality",
	"ConstructorID", "ConstructorName", "ConstructorNationality",
	"Q1", "Q2", "Q3",
}

// WriteResults joins results with their drivers and constructors and writes
// one denormalized CSV row per result, ordered by (season, round, position).
// The file is written to a temp sibling and renamed into place, so readers
// never observe a half-written file. It returns the number of data rows
// written. A result referencing an unknown driver or constructor is an
// error, matching the relational destinations' foreign keys.
func WriteResults(path string, drivers []model.Driver, constructors []model.Constructor, results []model.QualifyingResult) (int, error) {
	byDriver := make(map[string]model.Driver, len(drivers))
	for _, d := range drivers {
		byDriver[d.DriverID] = d
	}
	byConstructor := make(map[string]model.Constructor, len(constructors))
	for _, c := range constructors {
		byConstructor[c.ConstructorID] = c
	}

	ordered := make([]model.QualifyingResult, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Season != b.Season {
			return a.Season < b.Season
		}
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Position < b.Position
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("flatfile: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("flatfile: create temp: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name()) // no-op after rename
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		return 0, fmt.Errorf("flatfile: write header: %w", err)
	}

	for _, q := range ordered {
		d, ok := byDriver[q.DriverID]
		if !ok {
			return 0, fmt.Errorf("flatfile: result %d/%d references unknown driver %q", q.Season, q.Round, q.DriverID)
		}
		c, ok := byConstructor[q.ConstructorID]
		if !ok {
			return 0, fmt.Errorf("flatfile: result %d/%d references unknown constructor %q", q.Season, q.Round, q.ConstructorID)
		}
		if err := w.Write(record(q, d, c)); err != nil {
			return 0, fmt.Errorf("flatfile: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flatfile: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("flatfile: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("flatfile: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("flatfile: rename into place: %w", err)
	}
	return len(ordered), nil
}

// record flattens one joined result into Header order. nil optionals become
// empty cells.
func record(q model.QualifyingResult, d model.Driver, c model.Constructor) []string {
	return []string{
		strconv.Itoa(q.Season),
		strconv.Itoa(q.Round),
		q.CircuitID,
		strconv.Itoa(q.Position),
		d.DriverID,
		strDeref(d.Code),
		intDeref(d.PermanentNumber),
		d.GivenName,
		d.FamilyName,
		dateDeref(d.DateOfBirth),
		strDeref(d.Nationality),
		c.ConstructorID,
		c.Name,
		strDeref(c.Nationality),
		strDeref(q.Q1),
		strDeref(q.Q2),
		strDeref(q.Q3),
	}
}

func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intDeref(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func dateDeref(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.Format("2006-01-02")
}
