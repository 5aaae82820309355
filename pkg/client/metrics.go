package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Metrics holds the client's Prometheus collectors.
// A nil *Metrics records nothing.
type Metrics struct {
	frames          *prometheus.CounterVec
	requests        *prometheus.CounterVec
	events          *prometheus.CounterVec
	decodeErrors    prometheus.Counter
	keepAliveFaults prometheus.Counter
	probeLatency    prometheus.Histogram
	state           prometheus.Gauge
	pending         prometheus.GaugeFunc
	devices         prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, c *Client) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpclient",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Text frames by direction",
		}, []string{"direction"}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpclient",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Requests sent by message kind",
		}, []string{"kind"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpclient",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Uncorrelated server messages by kind",
		}, []string{"kind"}),

		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bpclient",
			Subsystem: "wire",
			Name:      "decode_errors_total",
			Help:      "Envelopes that could not be decoded",
		}),

		keepAliveFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bpclient",
			Subsystem: "keepalive",
			Name:      "faults_total",
			Help:      "Sessions ended by a failed keep-alive probe",
		}),

		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bpclient",
			Subsystem: "keepalive",
			Name:      "probe_latency_seconds",
			Help:      "Round trip time of keep-alive pings",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bpclient",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current lifecycle state (0=idle 1=connecting 2=handshaking 3=active 4=ping_fault 5=closed)",
		}),

		pending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "bpclient",
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply",
		}, func() float64 { return float64(c.pendingRequests()) }),

		devices: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "bpclient",
			Subsystem: "registry",
			Name:      "devices",
			Help:      "Devices currently registered",
		}, func() float64 { return float64(c.registry.Len()) }),
	}

	reg.MustRegister(
		m.frames,
		m.requests,
		m.events,
		m.decodeErrors,
		m.keepAliveFaults,
		m.probeLatency,
		m.state,
		m.pending,
		m.devices,
	)
	return m
}

func (m *Metrics) frame(direction string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(direction).Inc()
}

func (m *Metrics) request(kind wire.Kind) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) event(kind wire.Kind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) keepAliveFault() {
	if m == nil {
		return
	}
	m.keepAliveFaults.Inc()
}

func (m *Metrics) probe(seconds float64) {
	if m == nil {
		return
	}
	m.probeLatency.Observe(seconds)
}

func (m *Metrics) setState(v float64) {
	if m == nil {
		return
	}
	m.state.Set(v)
}
