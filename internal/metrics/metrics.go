// Package metrics exposes Prometheus collectors for storage lookups and
// synchronization rounds.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hexnews"

// Round outcomes.
const (
	RoundSucceeded = "succeeded"
	RoundFailed    = "failed"
)

// Collector owns a private registry with every hexnews collector registered on it.
type Collector struct {
	registry *prometheus.Registry

	lookups       *prometheus.CounterVec
	lookupLatency prometheus.Histogram
	rounds        *prometheus.CounterVec
	roundDuration prometheus.Histogram
	users         prometheus.Gauge
	posts         prometheus.Gauge
	votes         prometheus.Gauge
}

// NewCollector constructs a Collector with Go runtime and build info collectors.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewBuildInfoCollector(), collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "lookups_total",
			Help:      "number of log entry lookups by outcome",
		}, []string{"outcome"}),
		lookupLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "lookup_duration_seconds",
			Help:      "latency of log entry lookups",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rounds_total",
			Help:      "number of synchronization rounds by outcome",
		}, []string{"outcome"}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "round_duration_seconds",
			Help:      "wall time of synchronization rounds",
			Buckets:   prometheus.DefBuckets,
		}),
		users: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "users",
			Help:      "users admitted in the current snapshot",
		}),
		posts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "posts",
			Help:      "posts in the current snapshot",
		}),
		votes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "votes",
			Help:      "vote entries in the current snapshot",
		}),
	}
}

// ObserveLookup records the outcome of one storage lookup.
func (collector *Collector) ObserveLookup(outcome string, elapsed time.Duration) {
	collector.lookups.WithLabelValues(outcome).Inc()
	collector.lookupLatency.Observe(elapsed.Seconds())
}

// ObserveRound records one synchronization round.
func (collector *Collector) ObserveRound(outcome string, elapsed time.Duration) {
	collector.rounds.WithLabelValues(outcome).Inc()
	collector.roundDuration.Observe(elapsed.Seconds())
}

// SetSnapshotSize publishes the sizes of the current snapshot.
func (collector *Collector) SetSnapshotSize(users, posts, votes int) {
	collector.users.Set(float64(users))
	collector.posts.Set(float64(posts))
	collector.votes.Set(float64(votes))
}

// Registry returns the underlying registry.
func (collector *Collector) Registry() *prometheus.Registry {
	return collector.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (collector *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(collector.registry, promhttp.HandlerOpts{})
}
