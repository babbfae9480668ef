package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Page kinds used as the "kind" label of catalogue_pages_fetched_total.
const (
	PageKindListing = "listing"
	PageKindDetail  = "detail"
)

// Metrics holds the Prometheus collectors of one scrape. Every method is a
// no-op on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	PagesFetched    *prometheus.CounterVec
	Retries         prometheus.Counter
	Batches         prometheus.Counter
	BatchDuration   prometheus.Histogram
	FetchErrors     *prometheus.CounterVec
	Skipped         prometheus.Counter
}

// NewMetrics registers the scrape collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogue_requests_total",
			Help: "HTTP requests by outcome (started, succeeded, exhausted).",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalogue_request_duration_seconds",
			Help:    "Latency of single HTTP attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogue_pages_fetched_total",
			Help: "Pages fetched successfully, by kind (listing, detail).",
		}, []string{"kind"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogue_fetch_retries_total",
			Help: "Retries scheduled after a failed attempt.",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogue_batches_completed_total",
			Help: "Detail batches that finished.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalogue_batch_duration_seconds",
			Help:    "Wall time of one detail batch, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogue_fetch_errors_total",
			Help: "Failed attempts by category.",
		}, []string{"category"}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogue_skipped_products_total",
			Help: "Detail pages dropped after exhausting retries.",
		}),
	}

	m.Registry.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.PagesFetched,
		m.Retries,
		m.Batches,
		m.BatchDuration,
		m.FetchErrors,
		m.Skipped,
	)
	return m
}

func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages counts a successfully fetched page of the given kind.
func (m *Metrics) IncPages(kind string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// ObserveBatch records a completed detail batch and its duration.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.Batches.Inc()
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncError(category string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.Skipped.Inc()
}
