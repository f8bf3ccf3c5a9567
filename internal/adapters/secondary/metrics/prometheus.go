package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.CacheMetrics = (*Collector)(nil)

const namespace = "friendgraph"

// Collector expose l'état du cache du graphe sur un registry dédié
// (pas le registry global : plusieurs instances cohabitent dans les tests).
type Collector struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	mutationsTotal  *prometheus.CounterVec
	snapshotUsers   prometheus.Gauge
	snapshotEdges   prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Graph snapshot refreshes by outcome (ok, error, discarded).",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent loading users and friendships and rebuilding the graph.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Friendship mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		snapshotUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_users",
			Help:      "Users in the published snapshot.",
		}),
		snapshotEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_edges",
			Help:      "Friendships in the published snapshot.",
		}),
	}

	c.registry.MustRegister(
		c.refreshTotal,
		c.refreshDuration,
		c.mutationsTotal,
		c.snapshotUsers,
		c.snapshotEdges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveRefresh(outcome string, d time.Duration) {
	c.refreshTotal.WithLabelValues(outcome).Inc()
	c.refreshDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveMutation(op, outcome string) {
	c.mutationsTotal.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) SetSnapshotSize(users, edges int) {
	c.snapshotUsers.Set(float64(users))
	c.snapshotEdges.Set(float64(edges))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler sert /metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
