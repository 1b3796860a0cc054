// Package metrics holds the Prometheus collectors for the canvas bridge.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons recorded by the input forwarder.
const (
	DropDetached    = "detached"
	DropNoInstance  = "no_instance"
	DropNotReady    = "not_ready"
	DropOutOfBounds = "out_of_bounds"
	DropRejected    = "rejected"
	DropDiscarded   = "discarded"
)

// Metrics holds all bridge collectors
type Metrics struct {
	// Input metrics
	EventsForwarded prometheus.Counter
	EventsDropped   *prometheus.CounterVec
	EventsCoalesced prometheus.Counter

	// Lifecycle metrics
	LoadAttempts     *prometheus.CounterVec
	Disposes         prometheus.Counter
	TeardownTimeouts *prometheus.CounterVec
	InstancesReady   prometheus.Gauge

	// Channel metrics
	Messages    *prometheus.CounterVec
	GuestFaults prometheus.Counter
}

// New registers the bridge collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		EventsForwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pointer_events_forwarded_total",
			Help:      "Pointer events queued for the embedded module",
		}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pointer_events_dropped_total",
			Help:      "Pointer events dropped before reaching the embedded module",
		}, []string{"reason"}),
		EventsCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pointer_events_coalesced_total",
			Help:      "Move events merged under backpressure",
		}),
		LoadAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_load_attempts_total",
			Help:      "Module load attempts by outcome",
		}, []string{"result"}),
		Disposes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_disposes_total",
			Help:      "Module host disposals",
		}),
		TeardownTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_timeouts_total",
			Help:      "Teardowns force-released after the confirmation timeout",
		}, []string{"stage"}),
		InstancesReady: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "module_instances_ready",
			Help:      "Module instances currently ready",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_total",
			Help:      "Bridge messages by direction and kind",
		}, []string{"direction", "kind"}),
		GuestFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_faults_total",
			Help:      "Guest traps raised while dispatching events or messages",
		}),
	}
}

func (m *Metrics) Forwarded() {
	if m == nil {
		return
	}
	m.EventsForwarded.Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.EventsCoalesced.Inc()
}

// LoadAttempt records a load outcome: "ready", "failed" or "canceled".
func (m *Metrics) LoadAttempt(result string) {
	if m == nil {
		return
	}
	m.LoadAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) Disposed() {
	if m == nil {
		return
	}
	m.Disposes.Inc()
}

func (m *Metrics) TeardownTimeout(stage string) {
	if m == nil {
		return
	}
	m.TeardownTimeouts.WithLabelValues(stage).Inc()
}

func (m *Metrics) InstanceReady(delta float64) {
	if m == nil {
		return
	}
	m.InstancesReady.Add(delta)
}

func (m *Metrics) Message(direction, kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) GuestFault() {
	if m == nil {
		return
	}
	m.GuestFaults.Inc()
}
