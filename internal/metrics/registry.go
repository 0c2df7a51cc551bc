// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the pipeline's Prometheus instrumentation,
// following the common Prometheus collector-registration shape:
// a struct of counters/gauges built with prometheus.NewCounterVec et al,
// registered once and retrieved through a process-wide singleton.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter/gauge the pipeline stages update as
// records move from ingest through enforcement.
type Registry struct {
	RecordsParsed  prometheus.Counter
	RecordsDropped *prometheus.CounterVec // label: reason
	WindowsEvicted prometheus.Counter
	DetectorErrors *prometheus.CounterVec // label: detector
	RulesApplied   *prometheus.CounterVec // label: outcome
	AdapterCalls   *prometheus.CounterVec // labels: adapter, outcome
}

// NewRegistry builds a Registry with all metrics initialized but not yet
// registered with any prometheus.Registerer.
func NewRegistry() *Registry {
	return &Registry{
		RecordsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_records_parsed_total",
			Help: "Total number of flow/netflow/ipfix/dns records successfully parsed by the ingest normalizer.",
		}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_records_dropped_total",
			Help: "Total number of records dropped during ingest, by reason.",
		}, []string{"reason"}),
		WindowsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_windows_evicted_total",
			Help: "Total number of feature-engine aggregation windows evicted.",
		}),
		DetectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_detector_errors_total",
			Help: "Total number of detector invocation errors, by detector.",
		}, []string{"detector"}),
		RulesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_rules_applied_total",
			Help: "Total number of policy orchestrator apply attempts, by outcome.",
		}, []string{"outcome"}),
		AdapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_adapter_calls_total",
			Help: "Total number of vendor adapter calls, by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
	}
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	r.RecordsParsed.Describe(ch)
	r.RecordsDropped.Describe(ch)
	r.WindowsEvicted.Describe(ch)
	r.DetectorErrors.Describe(ch)
	r.RulesApplied.Describe(ch)
	r.AdapterCalls.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.RecordsParsed.Collect(ch)
	r.RecordsDropped.Collect(ch)
	r.WindowsEvicted.Collect(ch)
	r.DetectorErrors.Collect(ch)
	r.RulesApplied.Collect(ch)
	r.AdapterCalls.Collect(ch)
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Get returns the process-wide Registry, creating it on first use.
func Get() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry()
	})
	return defaultReg
}

// ParsedRecord increments the parsed-records counter.
func (r *Registry) ParsedRecord() {
	r.RecordsParsed.Inc()
}

// DroppedRecord increments the dropped-records counter for reason.
func (r *Registry) DroppedRecord(reason string) {
	r.RecordsDropped.WithLabelValues(reason).Inc()
}

// EvictedWindow increments the evicted-windows counter.
func (r *Registry) EvictedWindow() {
	r.WindowsEvicted.Inc()
}

// DetectorError increments the detector-errors counter for detector.
func (r *Registry) DetectorError(detector string) {
	r.DetectorErrors.WithLabelValues(detector).Inc()
}

// RuleApplied increments the rules-applied counter for outcome
// ("active", "failed", "rolled_back", "expired").
func (r *Registry) RuleApplied(outcome string) {
	r.RulesApplied.WithLabelValues(outcome).Inc()
}

// AdapterCall increments the adapter-calls counter for adapter/outcome.
func (r *Registry) AdapterCall(adapter, outcome string) {
	r.AdapterCalls.WithLabelValues(adapter, outcome).Inc()
}
