package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vietddude/chaincore/internal/core/domain"
)

var (
	// resolutions tracks readiness-race outcomes per chain
	resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaincore_client_resolutions_total",
			Help: "Client resolution attempts by outcome",
		},
		[]string{"chain", "outcome"},
	)

	// cacheHits tracks resolutions served from the TTL cache
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaincore_client_cache_hits_total",
			Help: "Client resolutions served from the cached winner",
		},
		[]string{"chain"},
	)

	// raceDuration tracks how long readiness races take
	raceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaincore_readiness_race_seconds",
			Help:    "Readiness race duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// dispatchLatency tracks forwarded operation latency
	dispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaincore_dispatch_seconds",
			Help:    "Uniform dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "op"},
	)
)

func observeDispatch(code domain.ChainCode, op string, start time.Time) {
	dispatchLatency.WithLabelValues(string(code), op).Observe(time.Since(start).Seconds())
}
