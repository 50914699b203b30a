package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Document store Prometheus metrics.
var (
	DocumentsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "documents_written_total",
			Help:      "Documents committed to the backend",
		},
		[]string{"index"},
	)

	DuplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "duplicates_total",
			Help:      "Documents dropped or rejected by the duplicate policy",
		},
		[]string{"index", "mode", "reason"}, // reason: in_batch / existing / rejected
	)

	BackendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docstore",
			Name:      "backend_duration_seconds",
			Help:      "Backend call duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "op"},
	)

	FilterCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "filter_cache_total",
			Help:      "Normalized filter cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var storeOnce sync.Once

// RegisterStoreMetrics registers document store metrics. Safe to call more than once.
func RegisterStoreMetrics() {
	storeOnce.Do(func() {
		prometheus.MustRegister(DocumentsWrittenTotal, DuplicatesTotal, BackendDuration, FilterCacheTotal)
	})
}

// ObserveFilterCache is the filter.Cache lookup hook.
func ObserveFilterCache(hit bool) {
	if hit {
		FilterCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	FilterCacheTotal.WithLabelValues("miss").Inc()
}

// ObserveBackend records the duration of a backend call started at start.
//
//	defer metrics.ObserveBackend("redis", "write", time.Now())
func ObserveBackend(backend, op string, start time.Time) {
	BackendDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
