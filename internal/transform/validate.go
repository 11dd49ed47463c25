package transform

import (
	"fmt"
	"strconv"
	"time"

	"f1etl/internal/model"
)

// Rules bounds the plausibility checks. Zero values take the defaults: the
// first F1 championship season through next year.
type Rules struct {
	SeasonMin int
	SeasonMax int
}

const firstChampionshipSeason = 1950

func (r Rules) withDefaults() Rules {
	if r.SeasonMin == 0 {
		r.SeasonMin = firstChampionshipSeason
	}
	if r.SeasonMax == 0 {
		r.SeasonMax = time.Now().Year() + 1
	}
	return r
}

// Validate checks one cleaned row against the business rules and returns an
// error per failing field. An empty slice means the row is accepted.
// Rejected rows are reported, never coerced into the accepted set.
func Validate(row CleanRow, rules Rules) []RowError {
	rules = rules.withDefaults()
	var errs []RowError

	fail := func(field, reason string) {
		errs = append(errs, RowError{Line: row.Line, Field: field, Reason: reason, Kind: KindValidation})
	}

	// Required fields.
	switch {
	case row.Season == nil:
		fail("season", "required field missing")
	case *row.Season < rules.SeasonMin || *row.Season > rules.SeasonMax:
		fail("season", fmt.Sprintf("%d outside plausible window [%d, %d]", *row.Season, rules.SeasonMin, rules.SeasonMax))
	}
	switch {
	case row.Round == nil:
		fail("round", "required field missing")
	case *row.Round < 1:
		fail("round", fmt.Sprintf("%d is not a positive round", *row.Round))
	}
	switch {
	case row.Position == nil:
		fail("position", "required field missing")
	case *row.Position < 1:
		fail("position", fmt.Sprintf("%d is not a positive position", *row.Position))
	}
	for _, f := range []struct{ name, val string }{
		{"circuit_id", row.CircuitID},
		{"driver_id", row.DriverID},
		{"constructor_id", row.ConstructorID},
		{"given_name", row.GivenName},
		{"family_name", row.FamilyName},
		{"constructor_name", row.ConstructorName},
	} {
		if f.val == "" {
			fail(f.name, "required field missing")
		}
	}

	// Nationalities are free text but a bare number means a shifted column.
	for _, f := range []struct {
		name string
		val  *string
	}{
		{"nationality", row.Nationality},
		{"constructor_nationality", row.ConstructorNationality},
	} {
		if f.val == nil {
			continue
		}
		if _, err := strconv.Atoi(*f.val); err == nil {
			fail(f.name, strconv.Quote(*f.val)+" is numeric, not a nationality")
		}
	}

	// Absent lap times are fine (driver set no time); present ones must parse.
	for _, f := range []struct {
		name string
		val  *string
	}{
		{"q1", row.Q1}, {"q2", row.Q2}, {"q3", row.Q3},
	} {
		if f.val == nil {
			continue
		}
		if _, ok := model.ParseLapTime(*f.val); !ok {
			fail(f.name, strconv.Quote(*f.val)+` is not a lap time ("m:ss.sss")`)
		}
	}

	return errs
}
