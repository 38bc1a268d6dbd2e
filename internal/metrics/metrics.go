// Package metrics exposes the pipeline's Prometheus instrumentation:
// ingestion volume, fan-out deliveries and latency, enrichment outcomes
// and witness confirmation results.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	SightingsIngested prometheus.Counter
	AlertsSent        *prometheus.CounterVec
	FanoutSuppressed  prometheus.Counter
	FanoutDuration    prometheus.Histogram

	EnrichmentResults *prometheus.CounterVec
	WitnessOutcomes   *prometheus.CounterVec
}

// New builds and registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto(registry)

	return &Metrics{
		registry:          registry,
		SightingsIngested: factory.counter("skybeep_sightings_ingested_total", "Sightings accepted for persistence."),
		AlertsSent: factory.counterVec("skybeep_alerts_sent_total",
			"Push alerts delivered, by ring.", []string{"ring"}),
		FanoutSuppressed: factory.counter("skybeep_fanout_suppressed_total",
			"Fan-out runs blocked by the global rate cap."),
		FanoutDuration: factory.histogram("skybeep_fanout_duration_seconds",
			"Wall time of one fan-out run."),
		EnrichmentResults: factory.counterVec("skybeep_enrichment_results_total",
			"Enrichment processor outcomes, by processor and status.", []string{"processor", "status"}),
		WitnessOutcomes: factory.counterVec("skybeep_witness_confirmations_total",
			"Witness confirmation outcomes.", []string{"outcome"}),
	}
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// small helper so each collector registers on construction.
type factory struct {
	registry *prometheus.Registry
}

func promauto(registry *prometheus.Registry) factory {
	return factory{registry: registry}
}

func (f factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	f.registry.MustRegister(c)
	return c
}

func (f factory) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	f.registry.MustRegister(c)
	return c
}

func (f factory) histogram(name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: prometheus.DefBuckets,
	})
	f.registry.MustRegister(h)
	return h
}
