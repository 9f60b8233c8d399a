package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"voicekey/internal/ports"
)

// Listener states reported through the listener_state gauge.
var listenerStates = []string{"binding", "listening", "stopped"}

// PrometheusCollector implements ports.BridgeMetrics backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	datagrams      prometheus.Counter
	datagramBytes  prometheus.Histogram
	updates        *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	listenerState  *prometheus.GaugeVec
	observersGauge prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements BridgeMetrics.
var _ ports.BridgeMetrics = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "voicekey_overlay" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "voicekey_overlay"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.datagrams = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "bridge",
			Name:      "datagrams_received_total",
			Help:      "Total datagrams read from the UDP bridge socket.",
		})
		p.datagramBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "bridge",
			Name:      "datagram_size_bytes",
			Help:      "Size of received datagrams in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10), // 16B .. 8KiB
		})
		p.updates = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "state",
			Name:      "updates_applied_total",
			Help:      "Total state updates applied by kind (full, patch, local).",
		}, []string{"kind"})
		p.rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "bridge",
			Name:      "payloads_rejected_total",
			Help:      "Total discarded payloads by reason (utf8, schema, lock).",
		}, []string{"reason"})
		p.listenerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "bridge",
			Name:      "listener_state",
			Help:      "Current listener state (1 for the active state, 0 otherwise).",
		}, []string{"state"})
		p.observersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "notify",
			Name:      "websocket_observers",
			Help:      "Currently connected websocket observers.",
		})

		p.reg.MustRegister(
			p.datagrams,
			p.datagramBytes,
			p.updates,
			p.rejections,
			p.listenerState,
			p.observersGauge,
		)
	})
}

// DatagramReceived increments the datagram counter and observes its size.
func (p *PrometheusCollector) DatagramReceived(size int) {
	p.ensureRegistered()
	p.datagrams.Inc()
	p.datagramBytes.Observe(float64(size))
}

// UpdateApplied increments the update counter for kind.
func (p *PrometheusCollector) UpdateApplied(kind string) {
	p.ensureRegistered()
	p.updates.WithLabelValues(kind).Inc()
}

// PayloadRejected increments the rejection counter for reason.
func (p *PrometheusCollector) PayloadRejected(reason string) {
	p.ensureRegistered()
	p.rejections.WithLabelValues(reason).Inc()
}

// ListenerStateChanged marks state as the only active listener state.
func (p *PrometheusCollector) ListenerStateChanged(state string) {
	p.ensureRegistered()
	for _, s := range listenerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		p.listenerState.WithLabelValues(s).Set(value)
	}
}

// ObserversConnected sets the websocket observer gauge.
func (p *PrometheusCollector) ObserversConnected(count int) {
	p.ensureRegistered()
	p.observersGauge.Set(float64(count))
}
