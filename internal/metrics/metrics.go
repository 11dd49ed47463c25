// Package metrics is the pipeline's backend-agnostic instrumentation layer.
//
// It mirrors the storage package's registry idea at a smaller scale: a single
// pluggable Backend with a no-op default, so stage code can always record
// without caring whether a real metrics system is configured. Concrete
// systems (Prometheus Pushgateway, Datadog) live in subpackages and are
// installed once at startup via SetBackend.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal contract a metrics system must satisfy.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style observation.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics for backends that need it.
	Flush() error
}

// nopBackend keeps metrics optional.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the current one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// Row kinds recorded by the pipeline. They line up with the run summary's
// counters.
const (
	KindRead        = "read"
	KindParseErrors = "parse_errors"
	KindRejected    = "rejected"
	KindDuplicates  = "duplicates"
	KindInserted    = "inserted"
	KindUpdated     = "updated"
	KindFailed      = "failed"
)

// RecordStage measures one pipeline stage: latency plus success/failure.
func RecordStage(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "stage": stage, "status": status}
	backend.IncCounter("f1etl_stage_total", 1, lbls)
	backend.ObserveHistogram("f1etl_stage_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given job and kind.
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("f1etl_rows_total", float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordChunks counts upsert chunk transactions by outcome, "committed" or
// "rolled_back".
func RecordChunks(job, outcome string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("f1etl_chunks_total", float64(delta), Labels{
		"job":     job,
		"outcome": outcome,
	})
}
