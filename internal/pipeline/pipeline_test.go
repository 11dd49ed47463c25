package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"f1etl/internal/config"
	"f1etl/internal/storage"
	_ "f1etl/internal/storage/sqlite"
)

const fixtureCSV = `Season,Round,CircuitID,Position,DriverID,Code,PermanentNumber,GivenName,FamilyName,DateOfBirth,Nationality,ConstructorID,ConstructorName,ConstructorNationality,Q1,Q2,Q3
2024,1,bahrain,1,hamilton,,44,Lewis,Hamilton,1985-01-07,British,mercedes,Mercedes,German,1:30.123,1:29.500,1:29.001
2024,1,bahrain,2,verstappen,VER,1,Max,Verstappen,1997-09-30,Dutch,red_bull,Red Bull,Austrian,1:30.000,0,
abc,1,bahrain,3,alonso,ALO,14,Fernando,Alonso,1981-07-29,Spanish,aston_martin,Aston Martin,British,1:31.000,,
2024,1,bahrain,1,hamilton,HAM,44,Lewis,Hamilton,1985-01-07,British,mercedes,Mercedes,German,1:30.123,1:29.500,1:29.001
`

func writeFixture(tb testing.TB) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "qualifying.csv")
	if err := os.WriteFile(path, []byte(fixtureCSV), 0o644); err != nil {
		tb.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "f1.db")
	outPath := filepath.Join(dir, "clean.csv")

	cfg := config.Pipeline{
		Job:    "quali-test",
		Source: config.Source{Path: writeFixture(t), Options: config.Options{}},
		Destinations: []config.Destination{
			{Kind: "sqlite", DSN: dbPath, AutoCreateSchema: true},
			{Kind: "flatfile", Output: outPath},
		},
		Runtime: config.RuntimeConfig{BatchSize: 100},
	}

	sum, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.RunID == "" {
		t.Error("missing run id")
	}
	if sum.Read != 4 || sum.ParseErrors != 0 {
		t.Errorf("read=%d parse_errors=%d", sum.Read, sum.ParseErrors)
	}
	if sum.Accepted != 2 || sum.Rejected != 1 || sum.Duplicates != 1 {
		t.Errorf("accepted=%d rejected=%d duplicates=%d", sum.Accepted, sum.Rejected, sum.Duplicates)
	}
	if sum.Report.UniqueCodes != 2 || sum.Report.ValidTimes != 4 {
		t.Errorf("report codes=%d valid_times=%d", sum.Report.UniqueCodes, sum.Report.ValidTimes)
	}

	if len(sum.Destinations) != 2 {
		t.Fatalf("destination summaries: %d", len(sum.Destinations))
	}
	db := sum.Destinations[0]
	if db.Err != nil {
		t.Fatalf("sqlite destination: %v", db.Err)
	}
	// 2 drivers + 2 constructors + 2 results, all new.
	if db.Inserted != 6 || db.Updated != 0 || db.Failed != 0 {
		t.Errorf("sqlite counts: %+v", db)
	}
	ff := sum.Destinations[1]
	if ff.Err != nil || ff.Inserted != 2 {
		t.Errorf("flatfile summary: %+v", ff)
	}

	// Read back through the registry: derived code and "0" sentinel handling.
	repo, closeRepo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dbPath})
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer closeRepo()
	results, err := repo.FetchResults(context.Background(), 2024, 0)
	if err != nil {
		t.Fatalf("FetchResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: %d", len(results))
	}
	if results[0].DriverID != "hamilton" || results[0].Code != "HAM" {
		t.Errorf("derived code not persisted: %+v", results[0])
	}
	if results[1].Q2 != "" {
		t.Errorf("lap-time sentinel persisted: %+v", results[1])
	}
}

func TestRunSecondPassUpdates(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "f1.db")
	cfg := config.Pipeline{
		Job:    "quali-idem",
		Source: config.Source{Path: writeFixture(t), Options: config.Options{}},
		Destinations: []config.Destination{
			{Kind: "sqlite", DSN: dbPath, AutoCreateSchema: true},
		},
	}

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sum, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	db := sum.Destinations[0]
	if db.Inserted != 0 || db.Updated != 6 {
		t.Fatalf("second pass must update, not insert: %+v", db)
	}
}

func TestRunDestinationIsolation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Pipeline{
		Job:    "quali-iso",
		Source: config.Source{Path: writeFixture(t), Options: config.Options{}},
		Destinations: []config.Destination{
			{Kind: "nosuchkind", DSN: "x"},
			{Kind: "sqlite", DSN: filepath.Join(dir, "f1.db"), AutoCreateSchema: true},
		},
	}

	sum, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run must survive one bad destination: %v", err)
	}
	if sum.Destinations[0].Err == nil {
		t.Error("bad destination must carry its error")
	}
	if sum.Destinations[1].Err != nil || sum.Destinations[1].Inserted != 6 {
		t.Errorf("good destination: %+v", sum.Destinations[1])
	}
}

func TestRunAllDestinationsFailed(t *testing.T) {
	t.Parallel()

	cfg := config.Pipeline{
		Job:    "quali-fail",
		Source: config.Source{Path: writeFixture(t), Options: config.Options{}},
		Destinations: []config.Destination{
			{Kind: "nosuchkind", DSN: "x"},
		},
	}

	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error when every destination fails")
	}
}

func TestRunMissingSource(t *testing.T) {
	t.Parallel()

	cfg := config.Pipeline{
		Job:          "quali-missing",
		Source:       config.Source{Path: filepath.Join(t.TempDir(), "nope.csv"), Options: config.Options{}},
		Destinations: []config.Destination{{Kind: "flatfile", Output: "out.csv"}},
	}

	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected extract error")
	}
}
