package datadog

import (
	"net"
	"sort"
	"strings"
	"testing"
	"time"

	"f1etl/internal/metrics"
)

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "missing address returns error",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "udp address connects without a listener",
			cfg:  Config{Addr: "127.0.0.1:8125"},
		},
		{
			name: "namespace and tags are accepted",
			cfg: Config{
				Addr:       "127.0.0.1:8125",
				Namespace:  "quali.",
				GlobalTags: []string{"env:test"},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewBackend(%+v) error = nil, want non-nil", tt.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend(%+v) error = %v", tt.cfg, err)
			}
			if err := b.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
		})
	}
}

// TestIncCounterAndFlush verifies that counters reach the agent address with
// the namespace prefix and the labels translated to tags.
func TestIncCounterAndFlush(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer conn.Close()

	b, err := NewBackend(Config{Addr: conn.LocalAddr().String()})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter("f1etl_rows_total", 5, metrics.Labels{"kind": metrics.KindInserted})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	payload := string(buf[:n])

	if !strings.Contains(payload, "f1etl.f1etl_rows_total") {
		t.Errorf("payload missing namespaced metric name: %q", payload)
	}
	if !strings.Contains(payload, "kind:inserted") {
		t.Errorf("payload missing label tag: %q", payload)
	}
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	if got := labelsToTags(nil); got != nil {
		t.Fatalf("labelsToTags(nil) = %v, want nil", got)
	}
	if got := labelsToTags(metrics.Labels{}); got != nil {
		t.Fatalf("labelsToTags(empty) = %v, want nil", got)
	}

	got := labelsToTags(metrics.Labels{"stage": "load", "status": "success"})
	sort.Strings(got)
	want := []string{"stage:load", "status:success"}
	if len(got) != len(want) {
		t.Fatalf("labelsToTags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("labelsToTags = %v, want %v", got, want)
		}
	}
}
