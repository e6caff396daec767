// Package metrics collects Prometheus metrics for transactions, change feeds
// and media cleanup.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the coordinator, the feeds and the
// repositories.
type Recorder interface {
	RecordTransaction(name, outcome string, duration time.Duration)
	RecordDecodeReject(collection string)
	RecordFeedDelivery(feed string, size int)
	RecordFeedError(feed string)
	RecordCleanupFailure(kind string)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	txTotal        *prometheus.CounterVec
	txLatency      *prometheus.HistogramVec
	decodeRejects  *prometheus.CounterVec
	feedDeliveries *prometheus.CounterVec
	feedSize       *prometheus.GaugeVec
	feedErrors     *prometheus.CounterVec
	cleanupFail    *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kehilla_transactions_total",
			Help: "Conditional transactions by name and outcome.",
		}, []string{"name", "outcome"}),
		txLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kehilla_transaction_duration_seconds",
			Help:    "Conditional transaction latency, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
		decodeRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kehilla_decode_rejects_total",
			Help: "Documents dropped by the codec.",
		}, []string{"collection"}),
		feedDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kehilla_feed_deliveries_total",
			Help: "Snapshots published by change feeds.",
		}, []string{"feed"}),
		feedSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kehilla_feed_size",
			Help: "Entities in the most recent snapshot of a feed.",
		}, []string{"feed"}),
		feedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kehilla_feed_errors_total",
			Help: "Change feed failures.",
		}, []string{"feed"}),
		cleanupFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kehilla_cleanup_failures_total",
			Help: "Best-effort media cleanups that failed.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.txTotal,
		c.txLatency,
		c.decodeRejects,
		c.feedDeliveries,
		c.feedSize,
		c.feedErrors,
		c.cleanupFail,
	)

	return c
}

func (c *Collector) RecordTransaction(name, outcome string, duration time.Duration) {
	c.txTotal.WithLabelValues(name, outcome).Inc()
	c.txLatency.WithLabelValues(name).Observe(duration.Seconds())
}

func (c *Collector) RecordDecodeReject(collection string) {
	c.decodeRejects.WithLabelValues(collection).Inc()
}

func (c *Collector) RecordFeedDelivery(feed string, size int) {
	c.feedDeliveries.WithLabelValues(feed).Inc()
	c.feedSize.WithLabelValues(feed).Set(float64(size))
}

func (c *Collector) RecordFeedError(feed string) {
	c.feedErrors.WithLabelValues(feed).Inc()
}

func (c *Collector) RecordCleanupFailure(kind string) {
	c.cleanupFail.WithLabelValues(kind).Inc()
}

// Handler returns an HTTP handler for Prometheus scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type nop struct{}

// Nop returns a Recorder that records nothing.
func Nop() Recorder { return nop{} }

func (nop) RecordTransaction(string, string, time.Duration) {}
func (nop) RecordDecodeReject(string)                       {}
func (nop) RecordFeedDelivery(string, int)                  {}
func (nop) RecordFeedError(string)                          {}
func (nop) RecordCleanupFailure(string)                     {}
