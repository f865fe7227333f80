// Package observability exposes the Prometheus collectors for the signing
// authority. Collectors are lazily initialised singletons and every record
// method tolerates a nil receiver, so callers never guard metric calls.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ForgeMetrics tracks signing activity and the RPC surface serving it.
type ForgeMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
	replays     prometheus.Counter
	events      *prometheus.CounterVec
	burnsSeen   prometheus.Counter
}

var (
	forgeOnce     sync.Once
	forgeRegistry *ForgeMetrics
)

// Forge returns the lazily-initialised metrics registry.
func Forge() *ForgeMetrics {
	forgeOnce.Do(func() {
		forgeRegistry = &ForgeMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintforge",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mintforge",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintforge",
				Subsystem: "authority",
				Name:      "rate_limited_total",
				Help:      "Signing requests rejected by the per-player rate limits.",
			}, []string{"kind"}),
			replays: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mintforge",
				Subsystem: "authority",
				Name:      "replay_rejections_total",
				Help:      "Mint requests rejected because the instance ID was already used.",
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintforge",
				Subsystem: "authority",
				Name:      "events_total",
				Help:      "Authority events emitted, segmented by type.",
			}, []string{"type"}),
			burnsSeen: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mintforge",
				Subsystem: "watcher",
				Name:      "burns_processed_total",
				Help:      "Confirmed burn events applied by the chain watcher.",
			}),
		}
		prometheus.MustRegister(
			forgeRegistry.requests,
			forgeRegistry.latency,
			forgeRegistry.rateLimited,
			forgeRegistry.replays,
			forgeRegistry.events,
			forgeRegistry.burnsSeen,
		)
	})
	return forgeRegistry
}

// ObserveRequest records one JSON-RPC request outcome and its latency.
func (m *ForgeMetrics) ObserveRequest(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRateLimited counts a claim or mint rejected by rate limiting.
func (m *ForgeMetrics) RecordRateLimited(kind string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(kind).Inc()
}

// RecordReplayRejected counts a duplicate-instance rejection. These are
// security signals, not routine throttling.
func (m *ForgeMetrics) RecordReplayRejected() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

// RecordEvent counts one emitted authority event.
func (m *ForgeMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// RecordBurnProcessed counts one confirmed burn applied by the watcher.
func (m *ForgeMetrics) RecordBurnProcessed() {
	if m == nil {
		return
	}
	m.burnsSeen.Inc()
}
