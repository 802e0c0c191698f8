package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUnitOutcome(t *testing.T) {
	r := NewRegistry()
	r.UnitOutcome("inserted")
	r.UnitOutcome("inserted")
	r.UnitOutcome("failed")

	if got := testutil.ToFloat64(r.units.WithLabelValues("inserted")); got != 2 {
		t.Errorf("inserted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.units.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestObserveRequest(t *testing.T) {
	r := NewRegistry()
	r.ObserveRequest("anthropic", "ok", 300*time.Millisecond)
	r.ObserveRequest("anthropic", "retryable_error", time.Second)

	if got := testutil.ToFloat64(r.llmRequests.WithLabelValues("anthropic", "ok")); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(r.llmSeconds); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.UnitOutcome("inserted")
	r.ObserveRequest("p", "ok", time.Second)
	if err := r.WriteFile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Errorf("WriteFile on nil registry: %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	r := NewRegistry(WithDefaultCollectors())
	r.UnitOutcome("skipped")
	path := filepath.Join(t.TempDir(), "agentspec.prom")
	if err := r.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{`agentspec_units_total{outcome="skipped"} 1`, "go_goroutines"} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics file missing %q", want)
		}
	}
}
