// Package metrics exposes Prometheus collectors for MRC connections and
// controllers.
//
// All recording methods are safe on a nil *Metrics, so components take an
// optional *Metrics and call it unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mrc"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	connectionState *prometheus.GaugeVec
	connects        *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	pending         *prometheus.GaugeVec
	pollReads       *prometheus.CounterVec
	pollSkipped     *prometheus.CounterVec
	devices         *prometheus.GaugeVec
	addressConflict *prometheus.GaugeVec
	protocolErrors  *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry that also carries
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := newMetrics()
	m.registry = reg
	reg.MustRegister(m.collectors()...)
	return m
}

func newMetrics() *Metrics {
	byURL := []string{"url"}
	byType := []string{"url", "type"}
	return &Metrics{
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state (0 disconnected, 1 connecting, 2 connected)",
		}, byURL),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connect attempts by result",
		}, []string{"url", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a lost connection",
		}, byURL),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests queued by message type",
		}, byType),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Failed requests by message type",
		}, byType),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from queueing a request to its completion",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, byType),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Queued and in-flight requests",
		}, byURL),
		pollReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_reads_total",
			Help:      "Parameter reads issued by polling",
		}, byURL),
		pollSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_skipped_total",
			Help:      "Poll ticks skipped because requests were pending",
		}, byURL),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices present per bus",
		}, []string{"url", "bus"}),
		addressConflict: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "address_conflict",
			Help:      "1 if any device reports an address conflict",
		}, byURL),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Connection errors by kind (socket, protocol, status)",
		}, []string{"url", "kind"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectionState, m.connects, m.reconnects,
		m.requests, m.requestErrors, m.requestLatency, m.pending,
		m.pollReads, m.pollSkipped,
		m.devices, m.addressConflict, m.protocolErrors,
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Forget drops all series of one MRC.
func (m *Metrics) Forget(url string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"url": url}
	for _, c := range m.collectors() {
		if v, ok := c.(interface {
			DeletePartialMatch(prometheus.Labels) int
		}); ok {
			v.DeletePartialMatch(labels)
		}
	}
}

// ConnectionState records the numeric connection state.
func (m *Metrics) ConnectionState(url string, state int) {
	if m == nil {
		return
	}
	m.connectionState.WithLabelValues(url).Set(float64(state))
}

// ConnectResult counts a finished connect attempt.
func (m *Metrics) ConnectResult(url string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connects.WithLabelValues(url, result).Inc()
}

// ReconnectScheduled counts a scheduled reconnect.
func (m *Metrics) ReconnectScheduled(url string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(url).Inc()
}

// RequestDone counts a completed request and observes its duration.
func (m *Metrics) RequestDone(url, msgType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(url, msgType).Inc()
	if err != nil {
		m.requestErrors.WithLabelValues(url, msgType).Inc()
	}
	m.requestLatency.WithLabelValues(url, msgType).Observe(d.Seconds())
}

// Pending records the number of queued and in-flight requests.
func (m *Metrics) Pending(url string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(url).Set(float64(n))
}

// PollTick records a poll tick: the number of reads issued, or a skip.
func (m *Metrics) PollTick(url string, reads int, skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		m.pollSkipped.WithLabelValues(url).Inc()
		return
	}
	m.pollReads.WithLabelValues(url).Add(float64(reads))
}

// Devices records the device count of a bus.
func (m *Metrics) Devices(url string, bus uint8, n int) {
	if m == nil {
		return
	}
	m.devices.WithLabelValues(url, busLabel(bus)).Set(float64(n))
}

// AddressConflict records the aggregate conflict flag.
func (m *Metrics) AddressConflict(url string, conflict bool) {
	if m == nil {
		return
	}
	v := 0.0
	if conflict {
		v = 1
	}
	m.addressConflict.WithLabelValues(url).Set(v)
}

// Error counts a connection error of the given kind.
func (m *Metrics) Error(url, kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(url, kind).Inc()
}

func busLabel(bus uint8) string {
	if bus == 0 {
		return "0"
	}
	return "1"
}
