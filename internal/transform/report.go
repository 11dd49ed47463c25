package transform

import "fmt"

// ErrKind classifies why a row was rejected.
type ErrKind string

const (
	// KindParse marks rows the extractor could not parse (carried into the
	// report for a complete picture; the extractor already dropped them).
	KindParse ErrKind = "parse"
	// KindType marks rows where a numeric column held a non-numeric value.
	KindType ErrKind = "type"
	// KindValidation marks rows failing a business rule.
	KindValidation ErrKind = "validation"
	// KindDuplicate marks rows repeating an already-seen natural key.
	KindDuplicate ErrKind = "duplicate"
)

// RowError describes one rejected row. A row can accumulate several of these
// when multiple fields fail validation.
type RowError struct {
	Line   int
	Field  string
	Reason string
	Kind   ErrKind
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: field %q: %s (%s)", e.Line, e.Field, e.Reason, e.Kind)
}

// Report is the data-quality summary produced by TransformBatch. Rejected
// rows are listed with their failing fields; they never appear in the
// accepted batch.
type Report struct {
	Total      int // raw rows seen
	Accepted   int // rows that produced a QualifyingResult
	Duplicates int // rows dropped for repeating (season, round, driver_id)

	// NullCounts counts absent/sentinel values per canonical field across
	// all rows, before any rejection.
	NullCounts map[string]int

	// Rejected holds one entry per failing field per rejected row.
	Rejected []RowError

	// Code statistics over accepted drivers.
	UniqueCodes int
	EmptyCodes  int

	// Season range over accepted rows; both zero when nothing was accepted.
	SeasonMin int
	SeasonMax int

	// ValidTimes counts Q1/Q2/Q3 values that parse as lap times.
	ValidTimes int

	// Warnings carries best-effort findings that do not reject rows, e.g.
	// non-contiguous position sets within a (season, round) group.
	Warnings []string
}

// RejectedLines returns the distinct source lines that were rejected, in
// first-seen order.
func (r Report) RejectedLines() []int {
	seen := make(map[int]struct{}, len(r.Rejected))
	var lines []int
	for _, e := range r.Rejected {
		if _, ok := seen[e.Line]; ok {
			continue
		}
		seen[e.Line] = struct{}{}
		lines = append(lines, e.Line)
	}
	return lines
}
