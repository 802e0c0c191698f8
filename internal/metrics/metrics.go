// Package metrics records run metrics in a Prometheus registry and writes
// them in the text exposition format at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Option configures behaviour of a Registry.
type Option func(*options)

type options struct {
	registerDefaultCollectors bool
}

// WithDefaultCollectors adds the Go and process collectors.
func WithDefaultCollectors() Option {
	return func(o *options) {
		o.registerDefaultCollectors = true
	}
}

// Registry wraps a Prometheus registry with the agentspec collectors
// registered. A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	units       *prometheus.CounterVec
	llmRequests *prometheus.CounterVec
	llmSeconds  *prometheus.HistogramVec
}

// NewRegistry creates a registry holding the run collectors.
func NewRegistry(opts ...Option) *Registry {
	var settings options
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	reg := prometheus.NewRegistry()
	if settings.registerDefaultCollectors {
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	r := &Registry{
		registry: reg,
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentspec_units_total",
			Help: "Units processed, by outcome.",
		}, []string{"outcome"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentspec_llm_requests_total",
			Help: "LLM request attempts, by provider and status.",
		}, []string{"provider", "status"}),
		llmSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentspec_llm_request_seconds",
			Help:    "LLM request attempt latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		}, []string{"provider"}),
	}
	reg.MustRegister(r.units, r.llmRequests, r.llmSeconds)
	return r
}

// UnitOutcome counts one unit with the given outcome.
func (r *Registry) UnitOutcome(outcome string) {
	if r == nil {
		return
	}
	r.units.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one LLM attempt.
func (r *Registry) ObserveRequest(provider, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.llmRequests.WithLabelValues(provider, status).Inc()
	r.llmSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// WriteFile writes every registered metric to path in the text exposition
// format, replacing the file atomically.
func (r *Registry) WriteFile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
