package model

import (
	"testing"
	"time"
)

func TestParseLapTime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1:30.000", 90.0, true},
		{"1:29.500", 89.5, true},
		{"0:59.999", 59.999, true},
		{"12:00.001", 720.001, true},
		{"1:30", 0, false},      // missing millis
		{"1:30.00", 0, false},   // short millis
		{"1:60.000", 0, false},  // seconds out of range
		{"130.000", 0, false},   // no colon
		{":30.000", 0, false},   // empty minutes
		{"1:3a.000", 0, false},  // non-digit
		{"1:30,000", 0, false},  // wrong separator
		{"", 0, false},
		{"0", 0, false}, // sentinel is not a time
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseLapTime(tc.in)
			if ok != tc.ok {
				t.Fatalf("ParseLapTime(%q): ok=%v want %v", tc.in, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("ParseLapTime(%q): got %v want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestBestTime(t *testing.T) {
	t.Parallel()

	s := func(v string) *string { return &v }

	cases := []struct {
		name string
		q    QualifyingResult
		want string
	}{
		{"q3 fastest", QualifyingResult{Q1: s("1:30.000"), Q2: s("1:29.500"), Q3: s("1:29.000")}, "1:29.000"},
		{"q1 only", QualifyingResult{Q1: s("1:31.250")}, "1:31.250"},
		{"zero sentinel skipped", QualifyingResult{Q1: s("0"), Q2: s("1:29.500")}, "1:29.500"},
		{"no times", QualifyingResult{}, ""},
		{"unparseable skipped", QualifyingResult{Q1: s("abc"), Q2: s("1:40.123")}, "1:40.123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.q.BestTime(); got != tc.want {
				t.Fatalf("BestTime: got %q want %q", got, tc.want)
			}
			if (tc.want != "") != tc.q.HasValidTime() {
				t.Fatalf("HasValidTime disagrees with BestTime %q", tc.want)
			}
		})
	}
}

func TestCodeWellFormed(t *testing.T) {
	t.Parallel()

	good := []string{"HAM", "VER", "XXX"}
	bad := []string{"", "HA", "HAMI", "ham", "H4M", "hAM"}
	for _, s := range good {
		if !CodeWellFormed(s) {
			t.Errorf("CodeWellFormed(%q) = false, want true", s)
		}
	}
	for _, s := range bad {
		if CodeWellFormed(s) {
			t.Errorf("CodeWellFormed(%q) = true, want false", s)
		}
	}
}

func TestRowAlignment(t *testing.T) {
	t.Parallel()

	num := 44
	code := "HAM"
	nat := "British"
	dob := time.Date(1985, 1, 7, 0, 0, 0, 0, time.UTC)

	d := Driver{
		DriverID:        "hamilton",
		PermanentNumber: &num,
		Code:            &code,
		GivenName:       "Lewis",
		FamilyName:      "Hamilton",
		DateOfBirth:     &dob,
		Nationality:     &nat,
	}
	row := d.Row()
	if len(row) != len(DriversTable.Columns) {
		t.Fatalf("driver row width %d != %d columns", len(row), len(DriversTable.Columns))
	}
	if row[0] != "hamilton" || row[2] != "HAM" || row[5] != "1985-01-07" {
		t.Fatalf("driver row misaligned: %#v", row)
	}

	// nil optionals must surface as SQL NULL (untyped nil).
	row = Driver{DriverID: "x", GivenName: "A", FamilyName: "B"}.Row()
	for _, i := range []int{1, 2, 5, 6} {
		if row[i] != nil {
			t.Fatalf("optional column %d: got %#v want nil", i, row[i])
		}
	}

	c := Constructor{ConstructorID: "mercedes", Name: "Mercedes"}
	if got := c.Row(); len(got) != len(ConstructorsTable.Columns) {
		t.Fatalf("constructor row width %d != %d", len(got), len(ConstructorsTable.Columns))
	}

	q := QualifyingResult{Season: 2024, Round: 1, CircuitID: "bahrain", Position: 1, DriverID: "hamilton", ConstructorID: "mercedes"}
	if got := q.Row(); len(got) != len(QualifyingTable.Columns) {
		t.Fatalf("qualifying row width %d != %d", len(got), len(QualifyingTable.Columns))
	}
}

func TestNonKeyColumns(t *testing.T) {
	t.Parallel()

	got := QualifyingTable.NonKeyColumns()
	want := []string{"circuit_id", "position", "constructor_id", "q1", "q2", "q3"}
	if len(got) != len(want) {
		t.Fatalf("NonKeyColumns: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NonKeyColumns[%d]: got %q want %q", i, got[i], want[i])
		}
	}
}
