package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kidcode_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kidcode_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kidcode_cache_evictions_total",
		Help: "Entries removed by age or capacity eviction",
	})

	cacheTokensSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kidcode_cache_tokens_saved_total",
		Help: "Estimated tokens served from the cache",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kidcode_cache_entries",
		Help: "Entries currently held by the response cache",
	})
)
