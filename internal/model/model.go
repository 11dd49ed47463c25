// Package model defines the domain records produced by the transform stage
// and consumed by the storage backends: drivers, constructors, and qualifying
// results, plus the positional column mappings the loaders operate on.
//
// The records are plain structs. Persistence metadata lives in TableSpec
// values rather than struct tags so that backends can stay fully generic:
// they receive (TableSpec, [][]any) and never inspect the structs themselves.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Driver is a Formula-1 driver keyed by its natural id (e.g. "hamilton").
type Driver struct {
	DriverID        string
	PermanentNumber *int
	Code            *string // 3-letter code, derived from family name if absent
	GivenName       string
	FamilyName      string
	DateOfBirth     *time.Time
	Nationality     *string
}

// FullName returns "GivenName FamilyName".
func (d Driver) FullName() string {
	return d.GivenName + " " + d.FamilyName
}

// Constructor is an F1 team keyed by its natural id (e.g. "mercedes").
type Constructor struct {
	ConstructorID string
	Name          string
	Nationality   *string
}

// QualifyingResult is one driver's result in one qualifying session.
// Q1..Q3 hold lap times in "m:ss.sss" form; nil means no time was set.
type QualifyingResult struct {
	Season        int
	Round         int
	CircuitID     string
	Position      int
	DriverID      string
	ConstructorID string
	Q1            *string
	Q2            *string
	Q3            *string
}

// Key returns the natural key tuple of the result.
func (q QualifyingResult) Key() string {
	return fmt.Sprintf("%d\x1f%d\x1f%s", q.Season, q.Round, q.DriverID)
}

// BestTime returns the fastest of Q1/Q2/Q3 in its original string form, or
// "" when no session produced a parseable time. The literal "0" is a
// no-time sentinel in the source data and is never considered.
func (q QualifyingResult) BestTime() string {
	best := ""
	var bestSec float64
	for _, t := range []*string{q.Q1, q.Q2, q.Q3} {
		if t == nil || *t == "0" {
			continue
		}
		sec, ok := ParseLapTime(*t)
		if !ok {
			continue
		}
		if best == "" || sec < bestSec {
			best, bestSec = *t, sec
		}
	}
	return best
}

// HasValidTime reports whether at least one session time parses.
func (q QualifyingResult) HasValidTime() bool { return q.BestTime() != "" }

// TableSpec is the persistence mapping consumed by storage backends: table
// name, destination columns in positional order, and the subset of columns
// forming the natural key used for upserts.
type TableSpec struct {
	Name       string
	Columns    []string
	KeyColumns []string
}

// FQName returns the table name prefixed with schema when one is set.
func (t TableSpec) FQName(schema string) string {
	if schema == "" {
		return t.Name
	}
	return schema + "." + t.Name
}

// NonKeyColumns returns the columns not part of the natural key, in
// positional order. These are the columns an upsert updates.
func (t TableSpec) NonKeyColumns() []string {
	keys := make(map[string]struct{}, len(t.KeyColumns))
	for _, k := range t.KeyColumns {
		keys[k] = struct{}{}
	}
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if _, ok := keys[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Table specs for the three destination tables. Column order here is the
// contract for every Row() method and every CSV header below.
var (
	DriversTable = TableSpec{
		Name: "drivers",
		Columns: []string{
			"driver_id", "permanent_number", "code",
			"given_name", "family_name", "date_of_birth", "nationality",
		},
		KeyColumns: []string{"driver_id"},
	}

	ConstructorsTable = TableSpec{
		Name:       "constructors",
		Columns:    []string{"constructor_id", "name", "nationality"},
		KeyColumns: []string{"constructor_id"},
	}

	QualifyingTable = TableSpec{
		Name: "qualifying_results",
		Columns: []string{
			"season", "round", "circuit_id", "position",
			"driver_id", "constructor_id", "q1", "q2", "q3",
		},
		KeyColumns: []string{"season", "round", "driver_id"},
	}
)

// Row flattens the driver into values aligned to DriversTable.Columns.
func (d Driver) Row() []any {
	return []any{
		d.DriverID,
		intPtrVal(d.PermanentNumber),
		strPtrVal(d.Code),
		d.GivenName,
		d.FamilyName,
		datePtrVal(d.DateOfBirth),
		strPtrVal(d.Nationality),
	}
}

// Row flattens the constructor into values aligned to ConstructorsTable.Columns.
func (c Constructor) Row() []any {
	return []any{c.ConstructorID, c.Name, strPtrVal(c.Nationality)}
}

// Row flattens the result into values aligned to QualifyingTable.Columns.
func (q QualifyingResult) Row() []any {
	return []any{
		q.Season, q.Round, q.CircuitID, q.Position,
		q.DriverID, q.ConstructorID,
		strPtrVal(q.Q1), strPtrVal(q.Q2), strPtrVal(q.Q3),
	}
}

// DriverRows maps a slice of drivers to positional rows.
func DriverRows(in []Driver) [][]any {
	out := make([][]any, len(in))
	for i, d := range in {
		out[i] = d.Row()
	}
	return out
}

// ConstructorRows maps a slice of constructors to positional rows.
func ConstructorRows(in []Constructor) [][]any {
	out := make([][]any, len(in))
	for i, c := range in {
		out[i] = c.Row()
	}
	return out
}

// QualifyingRows maps a slice of results to positional rows.
func QualifyingRows(in []QualifyingResult) [][]any {
	out := make([][]any, len(in))
	for i, q := range in {
		out[i] = q.Row()
	}
	return out
}

// nil pointers become SQL NULLs; drivers understand untyped nil.

func strPtrVal(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtrVal(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func datePtrVal(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.Format("2006-01-02")
}

// CodeWellFormed reports whether s is exactly three uppercase ASCII letters.
func CodeWellFormed(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// ParseLapTime parses "m:ss.sss" (minutes may be one or two digits) and
// returns total seconds. It avoids time.ParseDuration and fmt scanning on
// the hot path; anything that does not match the exact shape fails.
func ParseLapTime(s string) (float64, bool) {
	colon := strings.IndexByte(s, ':')
	if colon < 1 || colon > 2 {
		return 0, false
	}
	// minutes
	min := 0
	for i := 0; i < colon; i++ {
		d := s[i] - '0'
		if d > 9 {
			return 0, false
		}
		min = min*10 + int(d)
	}
	// ss.sss
	rest := s[colon+1:]
	if len(rest) != 6 || rest[2] != '.' {
		return 0, false
	}
	s1, s0 := rest[0]-'0', rest[1]-'0'
	m2, m1, m0 := rest[3]-'0', rest[4]-'0', rest[5]-'0'
	if s1 > 9 || s0 > 9 || m2 > 9 || m1 > 9 || m0 > 9 {
		return 0, false
	}
	sec := int(s1)*10 + int(s0)
	if sec > 59 {
		return 0, false
	}
	millis := int(m2)*100 + int(m1)*10 + int(m0)
	return float64(min*60+sec) + float64(millis)/1000, true
}
