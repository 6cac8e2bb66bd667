package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_requests_total",
		Help: "Upstream market-data requests by provider and outcome",
	}, []string{"provider", "kind", "outcome"})

	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_cache_hits_total",
		Help: "Cache hits by request kind",
	}, []string{"kind"})

	coalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_coalesced_requests_total",
		Help: "Requests merged into an identical in-flight fetch",
	}, []string{"kind"})

	backoffTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_backoff_waits_total",
		Help: "Requests that waited on a provider backoff window",
	}, []string{"provider"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_request_duration_seconds",
		Help:    "Upstream request latency by provider",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)
