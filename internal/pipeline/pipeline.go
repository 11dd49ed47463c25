// Package pipeline wires the stages together: extract the raw CSV, transform
// it into clean domain records, and load those records into every configured
// destination. Stages run sequentially; a batch is fully transformed before
// any destination sees it.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"f1etl/internal/config"
	"f1etl/internal/extract"
	"f1etl/internal/metrics"
	"f1etl/internal/model"
	"f1etl/internal/storage"
	"f1etl/internal/storage/flatfile"
	"f1etl/internal/transform"
)

// DestinationSummary is the per-sink outcome of one run. Err is set when the
// destination could not be used at all (connection or schema failure);
// partial chunk failures show up in Failed/FailedChunks instead.
type DestinationSummary struct {
	Kind         string
	Target       string
	Inserted     int64
	Updated      int64
	Failed       int64
	FailedChunks int
	Err          error
}

// Summary is the outcome of one pipeline run.
type Summary struct {
	RunID string
	Job   string

	Read        int
	ParseErrors int
	Accepted    int
	Rejected    int
	Duplicates  int

	Report       transform.Report
	Destinations []DestinationSummary
	Elapsed      time.Duration
}

// Run executes the full pipeline for cfg. Extract and transform failures are
// fatal. Destinations are isolated from each other: each one's failure is
// recorded in the summary and the run continues; Run returns an error only
// when every destination failed.
func Run(ctx context.Context, cfg config.Pipeline) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), Job: cfg.Job}

	log.Printf("pipeline: job=%s run=%s source=%s destinations=%d",
		cfg.Job, sum.RunID, cfg.Source.Path, len(cfg.Destinations))

	// Extract.
	extStart := time.Now()
	rows, stats, err := extract.New(extract.Options{
		Path:      cfg.Source.Path,
		Comma:     cfg.Source.Options.Rune("comma", ','),
		HeaderMap: headerMap(cfg.Source.Options.StringMap("header_map")),
	}).Extract(ctx)
	metrics.RecordStage(cfg.Job, "extract", err, time.Since(extStart))
	if err != nil {
		return sum, fmt.Errorf("pipeline: extract: %w", err)
	}
	sum.Read = stats.RowsRead
	sum.ParseErrors = stats.ParseErrors
	metrics.RecordRows(cfg.Job, metrics.KindRead, int64(stats.RowsRead))
	metrics.RecordRows(cfg.Job, metrics.KindParseErrors, int64(stats.ParseErrors))
	log.Printf("pipeline: extract rows=%d parse_errors=%d", stats.RowsRead, stats.ParseErrors)

	// Transform.
	trStart := time.Now()
	batch, report := transform.TransformBatch(rows, transform.Rules{
		SeasonMin: cfg.Transform.SeasonMin,
		SeasonMax: cfg.Transform.SeasonMax,
	})
	metrics.RecordStage(cfg.Job, "transform", nil, time.Since(trStart))
	sum.Report = report
	sum.Accepted = report.Accepted
	sum.Duplicates = report.Duplicates
	// Duplicates are listed among the rejected lines; count them separately.
	sum.Rejected = report.Total - report.Accepted - report.Duplicates
	metrics.RecordRows(cfg.Job, metrics.KindRejected, int64(sum.Rejected))
	metrics.RecordRows(cfg.Job, metrics.KindDuplicates, int64(report.Duplicates))
	logReport(cfg.Job, report)

	// Load, one destination at a time.
	batchSize := cfg.Runtime.EffectiveBatchSize()
	failures := 0
	for _, dest := range cfg.Destinations {
		ds := loadDestination(ctx, cfg.Job, dest, batch, batchSize)
		if ds.Err != nil {
			failures++
			log.Printf("pipeline: destination kind=%s skipped: %v", ds.Kind, ds.Err)
		}
		metrics.RecordRows(cfg.Job, metrics.KindInserted, ds.Inserted)
		metrics.RecordRows(cfg.Job, metrics.KindUpdated, ds.Updated)
		metrics.RecordRows(cfg.Job, metrics.KindFailed, ds.Failed)
		sum.Destinations = append(sum.Destinations, ds)
	}

	sum.Elapsed = time.Since(start)
	log.Printf("pipeline: job=%s run=%s done accepted=%d rejected=%d duplicates=%d elapsed=%s",
		cfg.Job, sum.RunID, sum.Accepted, sum.Rejected, sum.Duplicates,
		sum.Elapsed.Truncate(time.Millisecond))

	if len(cfg.Destinations) > 0 && failures == len(cfg.Destinations) {
		return sum, fmt.Errorf("pipeline: all %d destinations failed", failures)
	}
	return sum, nil
}

// loadDestination writes the batch into one sink. Relational kinds upsert
// parents before results so foreign keys hold; the flatfile kind writes the
// joined CSV.
func loadDestination(ctx context.Context, job string, dest config.Destination, batch transform.Batch, batchSize int) DestinationSummary {
	ds := DestinationSummary{Kind: dest.Kind}
	loadStart := time.Now()

	if dest.Kind == "flatfile" {
		ds.Target = dest.Output
		n, err := flatfile.WriteResults(dest.Output, batch.Drivers, batch.Constructors, batch.Results)
		metrics.RecordStage(job, "load-flatfile", err, time.Since(loadStart))
		if err != nil {
			ds.Err = err
			return ds
		}
		ds.Inserted = int64(n)
		log.Printf("loader: kind=flatfile output=%s rows=%d", dest.Output, n)
		return ds
	}

	dsn, err := dest.ResolveDSN()
	if err != nil {
		ds.Err = err
		return ds
	}
	ds.Target = dest.Kind

	repo, closeRepo, err := storage.New(ctx, storage.Config{Kind: dest.Kind, DSN: dsn, Schema: dest.Schema})
	if err != nil {
		metrics.RecordStage(job, "load-"+dest.Kind, err, time.Since(loadStart))
		ds.Err = err
		return ds
	}
	defer closeRepo()

	if dest.AutoCreateSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			metrics.RecordStage(job, "load-"+dest.Kind, err, time.Since(loadStart))
			ds.Err = err
			return ds
		}
	}

	var total storage.LoadResult
	tables := []struct {
		spec model.TableSpec
		rows [][]any
	}{
		{model.DriversTable, model.DriverRows(batch.Drivers)},
		{model.ConstructorsTable, model.ConstructorRows(batch.Constructors)},
		{model.QualifyingTable, model.QualifyingRows(batch.Results)},
	}
	var loadErr error
	for _, t := range tables {
		res, err := storage.UpsertBatches(ctx, repo, t.spec, t.rows, batchSize)
		total.Merge(res)
		recordChunks(job, len(t.rows), batchSize, len(res.FailedChunks))
		if err != nil {
			loadErr = err
			break
		}
	}
	metrics.RecordStage(job, "load-"+dest.Kind, loadErr, time.Since(loadStart))

	ds.Inserted = total.Inserted
	ds.Updated = total.Updated
	ds.Failed = total.Failed
	ds.FailedChunks = len(total.FailedChunks)
	ds.Err = loadErr
	log.Printf("loader: kind=%s inserted=%d updated=%d failed=%d failed_chunks=%d",
		dest.Kind, ds.Inserted, ds.Updated, ds.Failed, ds.FailedChunks)
	return ds
}

func recordChunks(job string, rows, batchSize, rolledBack int) {
	if rows == 0 || batchSize <= 0 {
		return
	}
	chunks := (rows + batchSize - 1) / batchSize
	metrics.RecordChunks(job, "committed", int64(chunks-rolledBack))
	metrics.RecordChunks(job, "rolled_back", int64(rolledBack))
}

// headerMap overlays per-pipeline header overrides onto the defaults.
func headerMap(overrides map[string]string) map[string]string {
	if len(overrides) == 0 {
		return extract.DefaultHeaderMap
	}
	merged := make(map[string]string, len(extract.DefaultHeaderMap)+len(overrides))
	for k, v := range extract.DefaultHeaderMap {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// logReport prints the data-quality summary in the pipeline's key=value log
// style: aggregate counts, then per-field null counts, then warnings.
func logReport(job string, r transform.Report) {
	log.Printf("report: job=%s total=%d accepted=%d rejected_lines=%d duplicates=%d unique_codes=%d empty_codes=%d valid_times=%d seasons=%d..%d",
		job, r.Total, r.Accepted, len(r.RejectedLines()), r.Duplicates,
		r.UniqueCodes, r.EmptyCodes, r.ValidTimes, r.SeasonMin, r.SeasonMax)

	fields := make([]string, 0, len(r.NullCounts))
	for f, n := range r.NullCounts {
		if n > 0 {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	for _, f := range fields {
		log.Printf("report: job=%s nulls field=%s count=%d", job, f, r.NullCounts[f])
	}
	for _, e := range r.Rejected {
		log.Printf("report: job=%s rejected line=%d field=%s kind=%s reason=%q",
			job, e.Line, e.Field, e.Kind, e.Reason)
	}
	for _, w := range r.Warnings {
		log.Printf("report: job=%s warning=%q", job, w)
	}
}
