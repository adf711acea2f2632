package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"market_intel/models"
)

// Metrics bundles Prometheus collectors for crawling and sync runs.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ListingsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	LastSuccess     prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_intel_requests_total",
			Help: "Listing page requests issued, by site and outcome.",
		},
		[]string{"site", "outcome"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_intel_request_duration_seconds",
			Help:    "Listing page fetch latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"site"},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_intel_listings_extracted_total",
			Help: "Listings extracted from competitor pages.",
		},
		[]string{"site", "category"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_intel_crawl_errors_total",
			Help: "Failed (site, category) pairs by error type.",
		},
		[]string{"site", "error_type"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_intel_sync_runs_total",
			Help: "Finished sync runs by terminal status.",
		},
		[]string{"status"},
	)
	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "market_intel_last_success_timestamp_seconds",
			Help: "Unix time the last successful sync run finished.",
		},
	)

	registry.MustRegister(
		requests, requestDuration, listings, errorsTotal, runs, lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ListingsTotal:   listings,
		ErrorsTotal:     errorsTotal,
		RunsTotal:       runs,
		LastSuccess:     lastSuccess,
	}
}

func (m *Metrics) IncRequest(site models.Site, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(site), outcome).Inc()
}

func (m *Metrics) ObserveDuration(site models.Site, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(string(site)).Observe(d.Seconds())
}

func (m *Metrics) AddListings(site models.Site, category models.Category, n int) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(string(site), string(category)).Add(float64(n))
}

func (m *Metrics) IncError(site models.Site, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(site), errorType).Inc()
}

// ObserveRun records a run reaching a terminal status.
func (m *Metrics) ObserveRun(status models.RunStatus, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(status)).Inc()
	if status == models.RunStatusSuccess {
		m.LastSuccess.Set(float64(finishedAt.Unix()))
	}
}
