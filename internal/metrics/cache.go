package metrics

import "github.com/prometheus/client_golang/prometheus"

// Response cache metrics, registered explicitly from the composition root
// (no init()).
var (
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "textdex",
		Name:      "response_cache_hits_total",
		Help:      "Total number of response cache hits",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "textdex",
		Name:      "response_cache_misses_total",
		Help:      "Total number of response cache misses",
	})
)

// RegisterCacheMetrics registers the response cache collectors.
func RegisterCacheMetrics() {
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
}
