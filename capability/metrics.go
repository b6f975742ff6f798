package capability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// promCacheMetrics exports cache counters to prometheus, labeled per cache
// instance so multiple Cache values (as tests construct routinely) don't
// collide on the default registry, mirroring observability.Events()'s
// sync.Once-guarded registration pattern but with an instance label instead
// of a singleton counter.
type promCacheMetrics struct {
	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	refreshCount *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	size         *prometheus.GaugeVec
}

var (
	promCacheMetricsOnce sync.Once
	promCacheMetricsInst *promCacheMetrics
)

func promCacheRegistry() *promCacheMetrics {
	promCacheMetricsOnce.Do(func() {
		labels := []string{"cache"}
		promCacheMetricsInst = &promCacheMetrics{
			hits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentconnector",
				Subsystem: "capability_cache",
				Name:      "hits_total",
				Help:      "Cache lookups that found a live entry.",
			}, labels),
			misses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentconnector",
				Subsystem: "capability_cache",
				Name:      "misses_total",
				Help:      "Cache lookups that found no live entry.",
			}, labels),
			refreshCount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentconnector",
				Subsystem: "capability_cache",
				Name:      "refresh_total",
				Help:      "Successful background or forced refreshes.",
			}, labels),
			evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentconnector",
				Subsystem: "capability_cache",
				Name:      "evictions_total",
				Help:      "LRU evictions performed on insert.",
			}, labels),
			size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "agentconnector",
				Subsystem: "capability_cache",
				Name:      "size",
				Help:      "Current number of live cache entries.",
			}, labels),
		}
		prometheus.MustRegister(
			promCacheMetricsInst.hits,
			promCacheMetricsInst.misses,
			promCacheMetricsInst.refreshCount,
			promCacheMetricsInst.evictions,
			promCacheMetricsInst.size,
		)
	})
	return promCacheMetricsInst
}

// MetricsSnapshot is a point-in-time read of a cache's counters.
type MetricsSnapshot struct {
	Hits         uint64
	Misses       uint64
	RefreshCount uint64
	Evictions    uint64
	Size         int
}
