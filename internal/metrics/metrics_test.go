package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory Backend for asserting calls.
type fakeBackend struct {
	mu sync.Mutex

	counters   []counterCall
	histograms []histCall
	flushes    int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histograms = append(f.histograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func TestRecordStageSuccessAndFailure(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordStage("quali", "extract", nil, 2*time.Second)
	RecordStage("quali", "load", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.counters) != 2 || len(fb.histograms) != 2 {
		t.Fatalf("calls: counters=%d histograms=%d", len(fb.counters), len(fb.histograms))
	}

	ok := fb.counters[0]
	if ok.name != "f1etl_stage_total" || ok.delta != 1 {
		t.Fatalf("counter[0] = %#v", ok)
	}
	if ok.labels["stage"] != "extract" || ok.labels["status"] != "success" {
		t.Fatalf("counter[0] labels = %v", ok.labels)
	}
	if h := fb.histograms[0]; h.name != "f1etl_stage_duration_seconds" || h.value < 1.999 || h.value > 2.001 {
		t.Fatalf("histogram[0] = %#v", h)
	}

	bad := fb.counters[1]
	if bad.labels["stage"] != "load" || bad.labels["status"] != "failure" {
		t.Fatalf("counter[1] labels = %v", bad.labels)
	}
	if h := fb.histograms[1]; h.value < 1.499 || h.value > 1.501 {
		t.Fatalf("histogram[1] = %#v", h)
	}
}

func TestRecordRowsAndChunks(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordRows("quali", KindRead, 3)
	RecordRows("quali", KindRead, 0) // ignored
	RecordRows("quali", KindInserted, 5)
	RecordChunks("quali", "rolled_back", 1)

	if len(fb.counters) != 3 {
		t.Fatalf("counter calls: got %d want 3", len(fb.counters))
	}
	c0 := fb.counters[0]
	if c0.name != "f1etl_rows_total" || c0.delta != 3 || c0.labels["kind"] != KindRead {
		t.Fatalf("counter[0] = %#v", c0)
	}
	c1 := fb.counters[1]
	if c1.delta != 5 || c1.labels["kind"] != KindInserted {
		t.Fatalf("counter[1] = %#v", c1)
	}
	c2 := fb.counters[2]
	if c2.name != "f1etl_chunks_total" || c2.labels["outcome"] != "rolled_back" {
		t.Fatalf("counter[2] = %#v", c2)
	}
}

func TestSetBackendAndFlush(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	SetBackend(fb)

	if backend != fb {
		t.Fatal("SetBackend did not replace global backend")
	}
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fb.flushes != 1 {
		t.Fatalf("flushes: got %d want 1", fb.flushes)
	}

	SetBackend(nil)
	if backend != fb {
		t.Fatal("SetBackend(nil) must keep the current backend")
	}
}
