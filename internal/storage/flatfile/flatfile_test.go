package flatfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"f1etl/internal/extract"
	"f1etl/internal/model"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func fixture() ([]model.Driver, []model.Constructor, []model.QualifyingResult) {
	dob := time.Date(1985, 1, 7, 0, 0, 0, 0, time.UTC)
	drivers := []model.Driver{
		{DriverID: "hamilton", PermanentNumber: intp(44), Code: strp("HAM"),
			GivenName: "Lewis", FamilyName: "Hamilton", DateOfBirth: &dob, Nationality: strp("British")},
		{DriverID: "verstappen", Code: strp("VER"), GivenName: "Max", FamilyName: "Verstappen"},
	}
	constructors := []model.Constructor{
		{ConstructorID: "mercedes", Name: "Mercedes", Nationality: strp("German")},
		{ConstructorID: "red_bull", Name: "Red Bull"},
	}
	results := []model.QualifyingResult{
		{Season: 2024, Round: 1, CircuitID: "bahrain", Position: 2,
			DriverID: "hamilton", ConstructorID: "mercedes", Q1: strp("1:30.123"), Q3: strp("1:29.001")},
		{Season: 2024, Round: 1, CircuitID: "bahrain", Position: 1,
			DriverID: "verstappen", ConstructorID: "red_bull", Q1: strp("1:29.900")},
	}
	return drivers, constructors, results
}

func TestWriteResultsRoundTrip(t *testing.T) {
	t.Parallel()

	drivers, constructors, results := fixture()
	path := filepath.Join(t.TempDir(), "out", "qualifying.csv")

	n, err := WriteResults(path, drivers, constructors, results)
	if err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows written: got %d want 2", n)
	}

	// The output must re-extract with the standard header mapping.
	rows, stats, err := extract.New(extract.Options{Path: path}).Extract(context.Background())
	if err != nil {
		t.Fatalf("re-extract: %v", err)
	}
	if stats.RowsRead != 2 || stats.ParseErrors != 0 {
		t.Fatalf("stats: %+v", stats)
	}

	// Ordered by (season, round, position): verstappen first.
	first := rows[0]
	if first.Get("driver_id") != "verstappen" || first.Get("position") != "1" {
		t.Fatalf("row order: %+v", first.Fields)
	}
	second := rows[1]
	for key, want := range map[string]string{
		"season":                  "2024",
		"circuit_id":              "bahrain",
		"driver_id":               "hamilton",
		"code":                    "HAM",
		"permanent_number":        "44",
		"date_of_birth":           "1985-01-07",
		"nationality":             "British",
		"constructor_name":        "Mercedes",
		"constructor_nationality": "German",
		"q1":                      "1:30.123",
		"q2":                      "",
		"q3":                      "1:29.001",
	} {
		if got := second.Get(key); got != want {
			t.Errorf("%s: got %q want %q", key, got, want)
		}
	}
}

func TestWriteResultsUnknownParent(t *testing.T) {
	t.Parallel()

	drivers, constructors, results := fixture()
	results = append(results, model.QualifyingResult{
		Season: 2024, Round: 2, CircuitID: "jeddah", Position: 1,
		DriverID: "ghost", ConstructorID: "mercedes",
	})
	path := filepath.Join(t.TempDir(), "qualifying.csv")

	if _, err := WriteResults(path, drivers, constructors, results); err == nil {
		t.Fatal("expected unknown-driver error")
	}
	// The rename never happened, so no partial file is visible.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("partial output left behind: stat err = %v", err)
	}
}

func TestWriteResultsOverwrites(t *testing.T) {
	t.Parallel()

	drivers, constructors, results := fixture()
	path := filepath.Join(t.TempDir(), "qualifying.csv")

	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteResults(path, drivers, constructors, results); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:6]) != "Season" {
		t.Fatalf("stale content not replaced: %q", data[:6])
	}
}
