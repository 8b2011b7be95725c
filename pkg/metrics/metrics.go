// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "relay"

// Exchange outcomes.
const (
	OutcomeComplete     = "complete"
	OutcomeFailed       = "failed"
	OutcomeClientClosed = "client_closed"
)

// Collector records relay metrics into its own registry. A nil *Collector
// is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	exchanges       *prometheus.CounterVec
	exchangeLatency *prometheus.HistogramVec
	firstByte       prometheus.Histogram
	deltas          prometheus.Counter
	droppedLines    *prometheus.CounterVec
	sweptSessions   prometheus.Counter
	activeStreams   prometheus.Gauge
}

// NewCollector registers the relay metrics with registry. If registry is nil
// a new one is created.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: registry,
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Chat exchanges relayed, by outcome and failure code.",
		}, []string{"outcome", "code"}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from request to terminal event.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		firstByte: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_response_seconds",
			Help:      "Time until the upstream answered with response headers.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Answer fragments forwarded to clients.",
		}),
		droppedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_lines_dropped_total",
			Help:      "Upstream lines that produced no event, by reason.",
		}, []string{"reason"}),
		sweptSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by the expiry sweep.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Exchanges currently streaming.",
		}),
	}

	registry.MustRegister(
		c.exchanges,
		c.exchangeLatency,
		c.firstByte,
		c.deltas,
		c.droppedLines,
		c.sweptSessions,
		c.activeStreams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry metrics are recorded into.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// StreamStarted marks the start of an exchange.
func (c *Collector) StreamStarted() {
	if c == nil {
		return
	}
	c.activeStreams.Inc()
}

// RecordExchange records a finished exchange. code is empty for successful
// exchanges.
func (c *Collector) RecordExchange(outcome, code string, d time.Duration) {
	if c == nil {
		return
	}
	c.activeStreams.Dec()
	c.exchanges.WithLabelValues(outcome, code).Inc()
	c.exchangeLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordUpstreamResponse records how long the upstream took to answer.
func (c *Collector) RecordUpstreamResponse(d time.Duration) {
	if c == nil {
		return
	}
	c.firstByte.Observe(d.Seconds())
}

// RecordDelta counts one forwarded answer fragment.
func (c *Collector) RecordDelta() {
	if c == nil {
		return
	}
	c.deltas.Inc()
}

// RecordDroppedLine counts an upstream line that produced no event.
func (c *Collector) RecordDroppedLine(reason string) {
	if c == nil {
		return
	}
	c.droppedLines.WithLabelValues(reason).Inc()
}

// RecordSweep counts sessions removed by one sweep.
func (c *Collector) RecordSweep(removed int) {
	if c == nil {
		return
	}
	c.sweptSessions.Add(float64(removed))
}

// TrackSessions exposes the live session count through fn.
func (c *Collector) TrackSessions(namespace string, fn func() float64) {
	if c == nil {
		return
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Sessions currently held in memory.",
	}, fn))
}
