// Command f1etl runs the qualifying-results pipeline: extract the source
// CSV, clean and validate it, and load it into the configured destinations.
//
// Modes:
//
//	pipeline  run the full extract/transform/load cycle (default)
//	flatfile  run the pipeline against the flat-file destinations only
//	schema    create the destination tables and exit
//	show      print loaded results from the first relational destination
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"f1etl/internal/config"
	"f1etl/internal/metrics"
	"f1etl/internal/metrics/datadog"
	"f1etl/internal/metrics/prompush"
	"f1etl/internal/pipeline"
	"f1etl/internal/storage"

	// register all relational backends with the storage factory; the config
	// selects which ones a run actually uses.
	_ "f1etl/internal/storage/all"
)

func main() {
	var (
		cfgPath        string
		mode           string
		envFile        string
		validate       bool
		metricsBackend string
		pushgatewayURL string
		datadogAddr    string
		season         int
		limit          int
	)

	flag.StringVar(&cfgPath, "config", "configs/qualifying.json", "pipeline config JSON path")
	flag.StringVar(&mode, "mode", "pipeline", "one of: pipeline, flatfile, schema, show")
	flag.StringVar(&envFile, "env", "", "optional .env file with DSN variables")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.StringVar(&metricsBackend, "metrics-backend", "none", "metrics backend: pushgateway, datadog, none")
	flag.StringVar(&pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddr, "datadog-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	flag.IntVar(&season, "season", 0, "season filter for -mode show (0 = all)")
	flag.IntVar(&limit, "limit", 20, "row limit for -mode show (0 = no limit)")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	loadEnv(envFile, *verbose)

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validate {
		log.Printf("configuration is valid: %s", cfgPath)
		return
	}

	ctx := context.Background()

	switch mode {
	case "pipeline", "flatfile":
		if mode == "flatfile" {
			var ffOnly []config.Destination
			for _, d := range p.Destinations {
				if d.Kind == "flatfile" {
					ffOnly = append(ffOnly, d)
				}
			}
			if len(ffOnly) == 0 {
				fatalf("flatfile mode: no flatfile destination configured")
			}
			p.Destinations = ffOnly
		}
		setupMetrics(p.Job, metricsBackend, pushgatewayURL, datadogAddr, *verbose)
		defer flushMetrics()

		start := time.Now()
		sum, err := pipeline.Run(ctx, p)
		printSummary(os.Stdout, sum)
		if err != nil {
			fatalf("%v", err)
		}
		if *verbose {
			log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
		}

	case "schema":
		if err := createSchemas(ctx, p); err != nil {
			fatalf("%v", err)
		}

	case "show":
		if err := showResults(ctx, p, season, limit); err != nil {
			fatalf("%v", err)
		}

	default:
		fatalf("unknown mode %q; want pipeline, flatfile, schema, or show", mode)
	}
}

// loadEnv reads DSN variables from a .env file. An explicit -env path must
// exist; the default ./.env is best-effort.
func loadEnv(envFile string, verbose bool) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fatalf("load env file: %v", err)
		}
		return
	}
	if err := godotenv.Load(); err == nil && verbose {
		log.Printf("env: loaded .env")
	}
}

// setupMetrics installs the selected metrics backend: flag value first, then
// environment, then disabled.
func setupMetrics(job, backendName, pushgatewayURL, datadogAddr string, verbose bool) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if job == "" {
		job = "f1etl"
	}

	switch backendName {
	case "pushgateway":
		gwURL := pushgatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Printf("metrics: pushgateway init failed: %v; metrics disabled", err)
			return
		}
		log.Printf("metrics: backend=pushgateway url=%s job=%s", gwURL, job)
		metrics.SetBackend(b)

	case "datadog":
		addr := datadogAddr
		if addr == "" {
			addr = os.Getenv("DOGSTATSD_ADDR")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: addr})
		if err != nil {
			log.Printf("metrics: datadog init failed: %v; metrics disabled", err)
			return
		}
		log.Printf("metrics: backend=datadog addr=%s job=%s", addr, job)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled")
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func flushMetrics() {
	if err := metrics.Flush(); err != nil {
		log.Printf("metrics: flush error: %v", err)
	}
}

// createSchemas runs EnsureSchema against every relational destination.
func createSchemas(ctx context.Context, p config.Pipeline) error {
	for _, dest := range p.Destinations {
		if dest.Kind == "flatfile" {
			continue
		}
		dsn, err := dest.ResolveDSN()
		if err != nil {
			return err
		}
		repo, closeRepo, err := storage.New(ctx, storage.Config{Kind: dest.Kind, DSN: dsn, Schema: dest.Schema})
		if err != nil {
			return err
		}
		err = repo.EnsureSchema(ctx)
		closeRepo()
		if err != nil {
			return fmt.Errorf("ensure schema for %s: %w", dest.Kind, err)
		}
		log.Printf("schema: kind=%s ready", dest.Kind)
	}
	return nil
}

// showResults prints loaded rows from the first relational destination.
func showResults(ctx context.Context, p config.Pipeline, season, limit int) error {
	var dest *config.Destination
	for i := range p.Destinations {
		if p.Destinations[i].Kind != "flatfile" {
			dest = &p.Destinations[i]
			break
		}
	}
	if dest == nil {
		return fmt.Errorf("show: no relational destination configured")
	}

	dsn, err := dest.ResolveDSN()
	if err != nil {
		return err
	}
	repo, closeRepo, err := storage.New(ctx, storage.Config{Kind: dest.Kind, DSN: dsn, Schema: dest.Schema})
	if err != nil {
		return err
	}
	defer closeRepo()

	rows, err := repo.FetchResults(ctx, season, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEASON\tROUND\tCIRCUIT\tPOS\tCODE\tDRIVER\tCONSTRUCTOR\tQ1\tQ2\tQ3")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
			r.Season, r.Round, r.CircuitID, r.Position, r.Code,
			r.GivenName, r.FamilyName, r.ConstructorName, r.Q1, r.Q2, r.Q3)
	}
	return w.Flush()
}

// printSummary writes the run summary in a stable, grep-friendly layout.
func printSummary(w *os.File, sum pipeline.Summary) {
	fmt.Fprintf(w, "run %s job %s\n", sum.RunID, sum.Job)
	fmt.Fprintf(w, "  read=%d parse_errors=%d accepted=%d rejected=%d duplicates=%d\n",
		sum.Read, sum.ParseErrors, sum.Accepted, sum.Rejected, sum.Duplicates)
	fmt.Fprintf(w, "  codes: unique=%d empty=%d  valid_times=%d  seasons=%d..%d\n",
		sum.Report.UniqueCodes, sum.Report.EmptyCodes, sum.Report.ValidTimes,
		sum.Report.SeasonMin, sum.Report.SeasonMax)
	for _, d := range sum.Destinations {
		if d.Err != nil {
			fmt.Fprintf(w, "  destination %s: error: %v\n", d.Kind, d.Err)
			continue
		}
		fmt.Fprintf(w, "  destination %s: inserted=%d updated=%d failed=%d failed_chunks=%d\n",
			d.Kind, d.Inserted, d.Updated, d.Failed, d.FailedChunks)
	}
	fmt.Fprintf(w, "  elapsed=%s\n", sum.Elapsed.Truncate(time.Millisecond))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
