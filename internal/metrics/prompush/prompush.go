// Package prompush implements the metrics.Backend contract on top of a
// Prometheus Pushgateway. Batch jobs have nothing to scrape, so the run's
// counters and stage timings are collected in a private registry and pushed
// once at the end of the run via Flush.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"f1etl/internal/metrics"
)

// Backend collects pipeline metrics and pushes them to a Pushgateway.
type Backend struct {
	gatewayURL string
	jobName    string // Pushgateway grouping key
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec // f1etl_stage_total
	stageDuration *prometheus.SummaryVec // f1etl_stage_duration_seconds
	rowCounter    *prometheus.CounterVec // f1etl_rows_total
	chunkCounter  *prometheus.CounterVec // f1etl_chunks_total
}

// NewBackend constructs a Pushgateway backend. jobName becomes the
// Pushgateway "job" grouping key and defaults to "f1etl".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "f1etl"
	}

	reg := prometheus.NewRegistry()

	stageCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1etl_stage_total",
			Help: "Pipeline stage executions, partitioned by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "f1etl_stage_duration_seconds",
			Help:       "Pipeline stage duration in seconds, partitioned by stage and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"stage", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1etl_rows_total",
			Help: "Row-level counts per kind (read, rejected, inserted, ...).",
		},
		[]string{"kind"},
	)
	chunkCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1etl_chunks_total",
			Help: "Upsert chunk transactions by outcome (committed, rolled_back).",
		},
		[]string{"outcome"},
	)

	for _, c := range []prometheus.Collector{stageCounter, stageDuration, rowCounter, chunkCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stageCounter:  stageCounter,
		stageDuration: stageDuration,
		rowCounter:    rowCounter,
		chunkCounter:  chunkCounter,
	}, nil
}

// IncCounter implements metrics.Backend. The "job" label is dropped here; it
// is the Pushgateway grouping key instead.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "f1etl_stage_total":
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)
	case "f1etl_rows_total":
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
	case "f1etl_chunks_total":
		b.chunkCounter.WithLabelValues(labels["outcome"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "f1etl_stage_duration_seconds" {
		return
	}
	b.stageDuration.WithLabelValues(labels["stage"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
