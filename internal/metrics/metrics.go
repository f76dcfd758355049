// Package metrics provides Prometheus metrics for the knit store.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter, histogram and gauge the store exposes. All
// observer methods are nil-safe, so a nil *Metrics can be threaded through
// components that only sometimes run under a server with /metrics enabled.
type Metrics struct {
	InsertsTotal        *prometheus.CounterVec
	InsertDuration      prometheus.Histogram
	ReadsTotal          *prometheus.CounterVec
	ReconstructDuration prometheus.Histogram
	DeltaChainLength    prometheus.Histogram
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	IndexKeysGauge      prometheus.Gauge
	MissingParentsGauge prometheus.Gauge
	RecordsStreamed     prometheus.Counter
}

const namespace = "knit"

// New creates and registers every metric with the default registerer.
func New() *Metrics {
	return &Metrics{
		InsertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "inserts_total",
				Help:      "Total number of records inserted, labelled by storage method.",
			},
			[]string{"method"},
		),
		InsertDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "insert_duration_seconds",
				Help:      "Duration of a single insert, including delta decision and encode.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ReadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "reads_total",
				Help:      "Total number of fulltext reconstructions, labelled by outcome.",
			},
			[]string{"outcome"},
		),
		ReconstructDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "reconstruct_duration_seconds",
				Help:      "Duration of chain-walk reconstruction to fulltext.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DeltaChainLength: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "delta",
				Name:      "chain_length",
				Help:      "Number of delta hops walked to reach a fulltext.",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Content cache hits.",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Content cache misses.",
			},
			[]string{"cache"},
		),
		IndexKeysGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "keys",
				Help:      "Number of keys currently in the index.",
			},
		),
		MissingParentsGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "missing_compression_parents",
				Help:      "Number of compression parents currently tracked as missing.",
			},
		),
		RecordsStreamed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "records_streamed_total",
				Help:      "Total number of factories emitted by get_record_stream.",
			},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler, mounted by
// cmd/knitctl serve at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveChainLength records a reconstruction's delta-chain hop count.
func (m *Metrics) ObserveChainLength(n int) {
	if m == nil || m.DeltaChainLength == nil {
		return
	}
	m.DeltaChainLength.Observe(float64(n))
}

// ObserveInsertDuration records the wall-clock time of one Insert call.
func (m *Metrics) ObserveInsertDuration(d time.Duration) {
	if m == nil || m.InsertDuration == nil {
		return
	}
	m.InsertDuration.Observe(d.Seconds())
}

// ObserveReconstructDuration records the wall-clock time of one chain-walk
// reconstruction.
func (m *Metrics) ObserveReconstructDuration(d time.Duration) {
	if m == nil || m.ReconstructDuration == nil {
		return
	}
	m.ReconstructDuration.Observe(d.Seconds())
}

// IncInsert increments the insert counter for the given storage method.
func (m *Metrics) IncInsert(method string) {
	if m == nil || m.InsertsTotal == nil {
		return
	}
	m.InsertsTotal.WithLabelValues(method).Inc()
}

// IncRead increments the read counter for the given outcome ("ok",
// "missing", "error", "corrupt" or "mismatch").
func (m *Metrics) IncRead(outcome string) {
	if m == nil || m.ReadsTotal == nil {
		return
	}
	m.ReadsTotal.WithLabelValues(outcome).Inc()
}

// IncCacheHit increments the hit counter for the named cache.
func (m *Metrics) IncCacheHit(cache string) {
	if m == nil || m.CacheHitsTotal == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// IncCacheMiss increments the miss counter for the named cache.
func (m *Metrics) IncCacheMiss(cache string) {
	if m == nil || m.CacheMissesTotal == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// IncRecordsStreamed increments the records-streamed counter by n.
func (m *Metrics) IncRecordsStreamed(n int) {
	if m == nil || m.RecordsStreamed == nil {
		return
	}
	m.RecordsStreamed.Add(float64(n))
}

// SetIndexKeys sets the current index-size gauge.
func (m *Metrics) SetIndexKeys(n int) {
	if m == nil || m.IndexKeysGauge == nil {
		return
	}
	m.IndexKeysGauge.Set(float64(n))
}

// SetMissingParents sets the current missing-compression-parents gauge.
func (m *Metrics) SetMissingParents(n int) {
	if m == nil || m.MissingParentsGauge == nil {
		return
	}
	m.MissingParentsGauge.Set(float64(n))
}
