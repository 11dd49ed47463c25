// Package transform converts raw extracted rows into validated domain
// records and a data-quality report. The contract mirrors the pipeline's
// partial-failure policy: a bad row is reported and dropped, it never aborts
// the batch and it never reaches the accepted set.
package transform

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/zeebo/xxh3"

	"f1etl/internal/extract"
	"f1etl/internal/model"
)

// countedFields are the canonical columns tracked in Report.NullCounts.
var countedFields = []string{
	"season", "round", "circuit_id", "position",
	"driver_id", "code", "permanent_number",
	"given_name", "family_name", "date_of_birth", "nationality",
	"constructor_id", "constructor_name", "constructor_nationality",
	"q1", "q2", "q3",
}

// DeriveCode returns the driver's 3-letter code. A well-formed existing code
// (exactly three uppercase ASCII letters) is kept verbatim; otherwise the
// code is derived from the first three letters of the family name,
// uppercased and padded with 'X' when the name is shorter. Deterministic:
// the same name always yields the same code. Uniqueness across drivers is
// the destination's concern, not ours.
func DeriveCode(givenName, familyName, existing string) string {
	if model.CodeWellFormed(existing) {
		return existing
	}

	letters := make([]rune, 0, 3)
	for _, r := range familyName {
		if !unicode.IsLetter(r) {
			continue
		}
		letters = append(letters, unicode.ToUpper(r))
		if len(letters) == 3 {
			break
		}
	}
	if len(letters) == 0 {
		return ""
	}
	for len(letters) < 3 {
		letters = append(letters, 'X')
	}
	return string(letters)
}

// Batch is the accepted output of a transform run. Drivers and constructors
// are unique by natural key (first occurrence wins); results are unique by
// (season, round, driver_id).
type Batch struct {
	Drivers      []model.Driver
	Constructors []model.Constructor
	Results      []model.QualifyingResult
}

// TransformBatch applies Clean → DeriveCode → Validate to every raw row.
// One row's failure never aborts the batch: the row is recorded in the
// report and dropped. Duplicate (season, round, driver_id) tuples after the
// first are counted and dropped as well, since the loader's upsert would
// otherwise turn them into silent overwrites.
func TransformBatch(rows []extract.RawRow, rules Rules) (Batch, Report) {
	var batch Batch
	report := Report{
		Total:      len(rows),
		NullCounts: make(map[string]int, len(countedFields)),
	}

	drivers := make(map[string]int)      // driver_id -> index into batch.Drivers
	constructors := make(map[string]int) // constructor_id -> index
	seenResults := make(map[uint64]struct{}, len(rows))
	codes := make(map[string]struct{})
	positions := make(map[[2]int][]int) // (season, round) -> positions seen

	for _, raw := range rows {
		countNulls(raw, &report)

		row, cerr := Clean(raw)
		if cerr != nil {
			report.Rejected = append(report.Rejected, *cerr)
			continue
		}

		code := DeriveCode(row.GivenName, row.FamilyName, strDeref(row.Code))

		if errs := Validate(row, rules); len(errs) > 0 {
			report.Rejected = append(report.Rejected, errs...)
			continue
		}

		// Duplicate natural key: keep the first, count the rest.
		key := xxh3.HashString(resultKey(*row.Season, *row.Round, row.DriverID))
		if _, dup := seenResults[key]; dup {
			report.Duplicates++
			report.Rejected = append(report.Rejected, RowError{
				Line:   row.Line,
				Field:  "season,round,driver_id",
				Reason: "duplicate natural key",
				Kind:   KindDuplicate,
			})
			continue
		}
		seenResults[key] = struct{}{}

		if _, ok := drivers[row.DriverID]; !ok {
			drivers[row.DriverID] = len(batch.Drivers)
			d := model.Driver{
				DriverID:        row.DriverID,
				PermanentNumber: row.PermanentNumber,
				GivenName:       row.GivenName,
				FamilyName:      row.FamilyName,
				DateOfBirth:     row.DateOfBirth,
				Nationality:     row.Nationality,
			}
			if code != "" {
				c := code
				d.Code = &c
				codes[code] = struct{}{}
			} else {
				report.EmptyCodes++
			}
			batch.Drivers = append(batch.Drivers, d)
		}

		if _, ok := constructors[row.ConstructorID]; !ok {
			constructors[row.ConstructorID] = len(batch.Constructors)
			batch.Constructors = append(batch.Constructors, model.Constructor{
				ConstructorID: row.ConstructorID,
				Name:          row.ConstructorName,
				Nationality:   row.ConstructorNationality,
			})
		}

		res := model.QualifyingResult{
			Season:        *row.Season,
			Round:         *row.Round,
			CircuitID:     row.CircuitID,
			Position:      *row.Position,
			DriverID:      row.DriverID,
			ConstructorID: row.ConstructorID,
			Q1:            row.Q1,
			Q2:            row.Q2,
			Q3:            row.Q3,
		}
		batch.Results = append(batch.Results, res)
		report.Accepted++

		if report.SeasonMin == 0 || res.Season < report.SeasonMin {
			report.SeasonMin = res.Season
		}
		if res.Season > report.SeasonMax {
			report.SeasonMax = res.Season
		}
		for _, q := range []*string{res.Q1, res.Q2, res.Q3} {
			if q == nil {
				continue
			}
			if _, ok := model.ParseLapTime(*q); ok {
				report.ValidTimes++
			}
		}
		gk := [2]int{res.Season, res.Round}
		positions[gk] = append(positions[gk], res.Position)
	}

	report.UniqueCodes = len(codes)
	report.Warnings = append(report.Warnings, contiguityWarnings(positions)...)

	return batch, report
}

// countNulls tallies absent/sentinel values per canonical field.
func countNulls(raw extract.RawRow, report *Report) {
	for _, f := range countedFields {
		if _, ok := field(raw, f); !ok {
			report.NullCounts[f]++
		}
	}
}

// contiguityWarnings checks, best effort, that positions within each
// (season, round) group form a contiguous 1..n set. Violations are reported
// as warnings, never auto-corrected.
func contiguityWarnings(groups map[[2]int][]int) []string {
	keys := make([][2]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	var warnings []string
	for _, k := range keys {
		ps := append([]int(nil), groups[k]...)
		sort.Ints(ps)
		gaps := make([]string, 0)
		for i, p := range ps {
			if p != i+1 {
				gaps = append(gaps, fmt.Sprintf("got %d at rank %d", p, i+1))
			}
		}
		if len(gaps) > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"season %d round %d: positions not contiguous from 1: %s",
				k[0], k[1], strings.Join(gaps, ", ")))
		}
	}
	return warnings
}

func resultKey(season, round int, driverID string) string {
	return fmt.Sprintf("%d\x1f%d\x1f%s", season, round, driverID)
}

func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
