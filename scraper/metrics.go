package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RecordsTotal     prometheus.Counter
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	CategoriesTotal  *prometheus.CounterVec
	QuestionLookups  *prometheus.CounterVec
	PagesSkipped     prometheus.Counter
	DuplicateRecords prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total API requests issued, by endpoint.",
		},
		[]string{"endpoint"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "API request latency, by endpoint.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_records_extracted_total",
			Help: "Total product records extracted from search pages.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total number of request errors by type.",
		},
		[]string{"error_type"},
	)
	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_categories_total",
			Help: "Categories processed, by outcome.",
		},
		[]string{"status"},
	)
	questions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_question_lookups_total",
			Help: "Question activity lookups, by result.",
		},
		[]string{"result"},
	)
	pagesSkipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_pages_skipped_total",
			Help: "Search pages that contributed no records after retries.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_duplicate_records_total",
			Help: "Records dropped because their id was already harvested.",
		},
	)

	registry.MustRegister(requests, requestDuration, records, retries, errorsTotal,
		categories, questions, pagesSkipped, duplicates)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RecordsTotal:     records,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		CategoriesTotal:  categories,
		QuestionLookups:  questions,
		PagesSkipped:     pagesSkipped,
		DuplicateRecords: duplicates,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(endpoint string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveDuration records an API request duration.
func (m *Metrics) ObserveDuration(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// AddRecords increments the extracted records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCategory counts a finished category by outcome.
func (m *Metrics) IncCategory(status string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(status).Inc()
}

// IncQuestionLookup counts a question lookup as hit, fetched or error.
func (m *Metrics) IncQuestionLookup(result string) {
	if m == nil {
		return
	}
	m.QuestionLookups.WithLabelValues(result).Inc()
}

// AddPagesSkipped counts search pages lost to errors.
func (m *Metrics) AddPagesSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PagesSkipped.Add(float64(n))
}

// AddDuplicates counts records dropped by site-wide de-duplication.
func (m *Metrics) AddDuplicates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DuplicateRecords.Add(float64(n))
}
