// Package metrics exposes Prometheus instrumentation for the notification
// pipeline. Collectors register on the default registry at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "embycord"

var (
	PendingItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_items",
		Help:      "Items currently waiting for metadata",
	})

	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_cycles_total",
		Help:      "Completed poller passes over the pending queue",
	})

	PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_cycle_duration_seconds",
		Help:      "Wall time of one poller pass",
		Buckets:   prometheus.DefBuckets,
	})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Webhook dispatch attempts by path and outcome",
	}, []string{"path", "outcome"}) // path: media_added|direct, outcome: ok|<failure kind>

	ItemsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_abandoned_total",
		Help:      "Items dropped after exceeding the pending policy",
	})

	IntakeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intake_events_total",
		Help:      "Item-added events by source and result",
	}, []string{"source", "result"}) // result: queued|duplicate|ignored

	LibraryBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "library_breaker_state",
		Help:      "Library circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

// ObserveCycle records a finished poll cycle.
func ObserveCycle(d time.Duration, queueLen int) {
	PollCycles.Inc()
	PollCycleDuration.Observe(d.Seconds())
	PendingItems.Set(float64(queueLen))
}

// ObserveDispatch counts a dispatch outcome. An empty kind means success.
func ObserveDispatch(path, kind string) {
	if kind == "" {
		kind = "ok"
	}
	Dispatches.WithLabelValues(path, kind).Inc()
}

func ObserveIntake(source, result string) {
	IntakeEvents.WithLabelValues(source, result).Inc()
}
