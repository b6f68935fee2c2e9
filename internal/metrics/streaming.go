// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamEventsPublished counts stream events published to pub/sub.
	StreamEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmux_stream_events_published_total",
		Help: "Total number of stream events published to pub/sub by type",
	}, []string{"type"})

	// StreamPublishFailures counts events dropped after exhausting retries.
	StreamPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmux_stream_publish_failures_total",
		Help: "Total number of stream events dropped after exhausting publish retries",
	})

	// StreamBatchSize observes flushed batch sizes.
	StreamBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentmux_stream_batch_size",
		Help:    "Number of events per flushed publish batch",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	})

	// StreamPublishLatency observes per-message publish latency.
	StreamPublishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentmux_stream_publish_latency_seconds",
		Help:    "Latency of individual pub/sub publish calls",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// BrokerEventsDropped counts in-process notifications dropped because a
	// subscriber buffer was full.
	BrokerEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmux_broker_events_dropped_total",
		Help: "Total number of in-process notifications dropped on full subscriber buffers",
	})

	// HistoryAppendFailures counts history buffer writes that failed.
	HistoryAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmux_history_append_failures_total",
		Help: "Total number of failed history buffer appends",
	})
)

// IncStreamEventPublished records one successfully published stream event.
func IncStreamEventPublished(eventType string) {
	StreamEventsPublished.WithLabelValues(eventType).Inc()
}

// ObserveStreamBatch records one flushed batch.
func ObserveStreamBatch(size int) {
	StreamBatchSize.Observe(float64(size))
}

// ObserveStreamPublishLatency records the latency of one publish call.
func ObserveStreamPublishLatency(d time.Duration) {
	StreamPublishLatency.Observe(d.Seconds())
}

// IncBrokerEventDropped records one notification dropped by the in-process broker.
func IncBrokerEventDropped() {
	BrokerEventsDropped.Inc()
}
