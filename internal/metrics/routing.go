// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoutingDecisions counts routing outcomes by task type and selection stage.
	RoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmux_routing_decisions_total",
		Help: "Total number of routing decisions by task type, stage and result",
	}, []string{"task_type", "stage", "result"})

	// ProviderRequests counts provider API calls by provider, operation and result.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmux_provider_requests_total",
		Help: "Total number of provider API calls by provider, operation and result",
	}, []string{"provider", "operation", "result"})

	// ProviderLatency observes provider completion latency.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentmux_provider_latency_seconds",
		Help:    "Latency of provider API calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"provider", "operation"})

	// ProviderRetries counts retried provider calls by error kind.
	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmux_provider_retries_total",
		Help: "Total number of provider call retries by provider and error kind",
	}, []string{"provider", "kind"})

	// CatalogCache tracks catalog client cache effectiveness.
	CatalogCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmux_catalog_cache_total",
		Help: "Catalog client cache lookups by result (hit, miss, expired)",
	}, []string{"result"})
)

// IncRoutingDecision records one routing outcome.
func IncRoutingDecision(taskType, stage string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	RoutingDecisions.WithLabelValues(taskType, stage, result).Inc()
}

// RecordProviderCall records one provider API call.
func RecordProviderCall(provider, operation string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ProviderRequests.WithLabelValues(provider, operation, result).Inc()
	ProviderLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// IncProviderRetry records one retried provider call.
func IncProviderRetry(provider, kind string) {
	ProviderRetries.WithLabelValues(provider, kind).Inc()
}

// IncCatalogCache records one catalog cache lookup result.
func IncCatalogCache(result string) {
	CatalogCache.WithLabelValues(result).Inc()
}
