package transform

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"f1etl/internal/extract"
)

// nullSentinels are raw values treated as absent after trimming. `\N` is the
// MySQL dump convention, the rest show up in hand-edited exports.
var nullSentinels = map[string]struct{}{
	"":     {},
	`\N`:   {},
	"NA":   {},
	"N/A":  {},
	"null": {},
	"NULL": {},
}

// CleanRow is a raw row after whitespace/sentinel normalization and integer
// coercion. Optional fields are pointers; required string fields are "" when
// absent so that Validate can report them.
type CleanRow struct {
	Line int

	Season          *int
	Round           *int
	Position        *int
	PermanentNumber *int

	CircuitID     string
	DriverID      string
	ConstructorID string

	GivenName       string
	FamilyName      string
	ConstructorName string

	Code                   *string
	Nationality            *string
	ConstructorNationality *string
	DateOfBirth            *time.Time

	Q1 *string
	Q2 *string
	Q3 *string
}

// cleanText NFC-normalizes, rewrites non-breaking spaces to plain spaces,
// and trims. Mojibake like "Â " (UTF-8 NBSP read as Latin-1) shows up in
// real exports of driver names.
func cleanText(s string) string {
	if strings.ContainsRune(s, '\u00a0') {
		s = strings.ReplaceAll(s, "\u00a0", " ")
	}
	if strings.Contains(s, "Â ") {
		s = strings.ReplaceAll(s, "Â ", " ")
	}
	s = norm.NFC.String(s)
	return strings.TrimSpace(s)
}

// field returns the cleaned value and whether it is present (non-sentinel).
func field(raw extract.RawRow, key string) (string, bool) {
	s := cleanText(raw.Get(key))
	if _, null := nullSentinels[s]; null {
		return "", false
	}
	return s, true
}

// optStr returns a pointer to the cleaned value, nil when absent.
func optStr(raw extract.RawRow, key string) *string {
	s, ok := field(raw, key)
	if !ok {
		return nil
	}
	return &s
}

// optLap is optStr plus the "0" no-time sentinel used in the source data.
func optLap(raw extract.RawRow, key string) *string {
	s, ok := field(raw, key)
	if !ok || s == "0" {
		return nil
	}
	return &s
}

// optInt coerces the field to an integer. Absent values yield (nil, nil);
// non-numeric values yield a type-kind RowError.
func optInt(raw extract.RawRow, key string) (*int, *RowError) {
	s, ok := field(raw, key)
	if !ok {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, &RowError{
			Line:   raw.Line,
			Field:  key,
			Reason: strconv.Quote(s) + " is not an integer",
			Kind:   KindType,
		}
	}
	return &n, nil
}

// Clean normalizes one raw row: trims and NFC-normalizes every string field,
// folds sentinel null markers to absent, coerces season/round/position/
// permanent_number to integers, and parses date_of_birth. Lap times stay
// verbatim strings. The only failure mode is a non-numeric value in an
// integer column.
func Clean(raw extract.RawRow) (CleanRow, *RowError) {
	row := CleanRow{Line: raw.Line}

	var err *RowError
	if row.Season, err = optInt(raw, "season"); err != nil {
		return row, err
	}
	if row.Round, err = optInt(raw, "round"); err != nil {
		return row, err
	}
	if row.Position, err = optInt(raw, "position"); err != nil {
		return row, err
	}
	if row.PermanentNumber, err = optInt(raw, "permanent_number"); err != nil {
		return row, err
	}
	// The source uses 0 for "no permanent number" (pre-2014 seasons).
	if row.PermanentNumber != nil && *row.PermanentNumber == 0 {
		row.PermanentNumber = nil
	}

	row.CircuitID, _ = field(raw, "circuit_id")
	row.DriverID, _ = field(raw, "driver_id")
	row.ConstructorID, _ = field(raw, "constructor_id")
	row.GivenName, _ = field(raw, "given_name")
	row.FamilyName, _ = field(raw, "family_name")
	row.ConstructorName, _ = field(raw, "constructor_name")

	row.Code = optStr(raw, "code")
	row.Nationality = optStr(raw, "nationality")
	row.ConstructorNationality = optStr(raw, "constructor_nationality")

	// Unparseable birth dates are nulled, not rejected; the column is
	// optional and the upstream feed is known to be spotty here.
	if s, ok := field(raw, "date_of_birth"); ok {
		if t, perr := time.Parse("2006-01-02", s); perr == nil {
			row.DateOfBirth = &t
		}
	}

	row.Q1 = optLap(raw, "q1")
	row.Q2 = optLap(raw, "q2")
	row.Q3 = optLap(raw, "q3")

	return row, nil
}
