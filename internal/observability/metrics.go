package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	writeTotal     *prometheus.CounterVec
	searchTotal    *prometheus.CounterVec
	writeDuration  prometheus.Histogram
	searchDuration prometheus.Histogram

	cacheLookupTotal *prometheus.CounterVec
	embedRetryTotal  prometheus.Counter

	jobRunTotal    *prometheus.CounterVec
	jobRunDuration *prometheus.HistogramVec

	entriesTotal prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			writeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_write_total",
					Help: "Total memory writes by outcome (created, duplicate, error).",
				},
				[]string{"outcome"},
			),
			searchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_search_total",
					Help: "Total memory searches by source (cache, store, error).",
				},
				[]string{"source"},
			),
			writeDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_write_duration_seconds",
					Help:    "Memory write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			cacheLookupTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_cache_lookup_total",
					Help: "Search cache lookups by result (hit, miss).",
				},
				[]string{"result"},
			),
			embedRetryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_embed_retry_total",
					Help: "Embedding computations handed off to background retry.",
				},
			),
			jobRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_job_run_total",
					Help: "Scheduled job runs by job and status.",
				},
				[]string{"job", "status"},
			),
			jobRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memory_job_run_duration_seconds",
					Help:    "Scheduled job run duration in seconds by job.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"job"},
			),
			entriesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Total durable memory entries.",
				},
			),
		}

		prometheus.MustRegister(
			m.writeTotal,
			m.searchTotal,
			m.writeDuration,
			m.searchDuration,
			m.cacheLookupTotal,
			m.embedRetryTotal,
			m.jobRunTotal,
			m.jobRunDuration,
			m.entriesTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordWrite counts one write with its outcome and duration.
func RecordWrite(outcome string, d time.Duration) {
	m := getMetrics()
	m.writeTotal.WithLabelValues(outcome).Inc()
	m.writeDuration.Observe(d.Seconds())
}

// RecordSearch counts one search with its serving source and duration.
func RecordSearch(source string, d time.Duration) {
	m := getMetrics()
	m.searchTotal.WithLabelValues(source).Inc()
	m.searchDuration.Observe(d.Seconds())
}

// RecordCacheLookup counts a search cache hit or miss.
func RecordCacheLookup(result string) {
	getMetrics().cacheLookupTotal.WithLabelValues(result).Inc()
}

// RecordEmbedRetry counts an embedding handoff to the background retrier.
func RecordEmbedRetry() {
	getMetrics().embedRetryTotal.Inc()
}

// RecordJobRun counts one scheduled job run.
func RecordJobRun(job, status string, d time.Duration) {
	m := getMetrics()
	m.jobRunTotal.WithLabelValues(job, status).Inc()
	m.jobRunDuration.WithLabelValues(job).Observe(d.Seconds())
}

// SetEntriesTotal publishes the durable entry count.
func SetEntriesTotal(n float64) {
	getMetrics().entriesTotal.Set(n)
}
