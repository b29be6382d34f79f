// Package metrics bundles the Prometheus collectors of the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RetriesTotal    prometheus.Counter
	ImagesTotal     *prometheus.CounterVec
	ListingsTotal   *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Supplier HTTP requests by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_request_duration_seconds",
			Help:    "Latency of supplier HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_retries_total",
			Help: "Retries scheduled after transient failures.",
		},
	)
	images := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_images_total",
			Help: "Image transfers by outcome.",
		},
		[]string{"outcome"},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_listings_total",
			Help: "Processed listings by terminal state.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, retries, images, listings)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ImagesTotal:     images,
		ListingsTotal:   listings,
	}
}

func (m *Metrics) IncRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) IncImage(outcome string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncListing(outcome string) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(outcome).Inc()
}

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	return r
}
