package dynsim

// metrics.go exposes the engine's message and node statistics as
// Prometheus collectors, so that long experiments can be watched while
// they run.  A nil *EngineMetrics is valid and records nothing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics bundles the collectors fed by a ComEngine
type EngineMetrics struct {
	MessagesSent prometheus.Counter
	MessagesLost prometheus.Counter
	Latency      prometheus.Histogram
	ActiveNodes  prometheus.Gauge
	DeadNodes    prometheus.Gauge
	Links        prometheus.Gauge
	ChurnEvents  *prometheus.CounterVec
	InvalidReps  prometheus.Counter
}

// NewEngineMetrics registers the collectors against reg, defaulting to the
// global Prometheus registry when reg is nil.  constLabels tells runs apart
// when several share a registry
func NewEngineMetrics(reg prometheus.Registerer, constLabels prometheus.Labels) (*EngineMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &EngineMetrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dynsim",
			Name:        "messages_sent_total",
			Help:        "Messages delivered into a receiver's buffer.",
			ConstLabels: constLabels,
		}),
		MessagesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dynsim",
			Name:        "messages_lost_total",
			Help:        "Messages lost, charged to sender or receiver.",
			ConstLabels: constLabels,
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "dynsim",
			Name:        "message_latency_ticks",
			Help:        "Transmission delay of delivered messages, in simulation time units.",
			Buckets:     prometheus.LinearBuckets(1, 1, 10),
			ConstLabels: constLabels,
		}),
		ActiveNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dynsim",
			Name:        "active_nodes",
			Help:        "Nodes currently in the network.",
			ConstLabels: constLabels,
		}),
		DeadNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dynsim",
			Name:        "dead_nodes",
			Help:        "Nodes that have departed.",
			ConstLabels: constLabels,
		}),
		Links: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dynsim",
			Name:        "links",
			Help:        "Physical links currently in the network.",
			ConstLabels: constLabels,
		}),
		ChurnEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "dynsim",
			Name:        "dynamics_nodes_total",
			Help:        "Nodes affected by dynamics events, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		InvalidReps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dynsim",
			Name:        "invalid_repetitions_total",
			Help:        "Repetitions discarded after a non-critical network error.",
			ConstLabels: constLabels,
		}),
	}

	collectors := []prometheus.Collector{m.MessagesSent, m.MessagesLost, m.Latency,
		m.ActiveNodes, m.DeadNodes, m.Links, m.ChurnEvents, m.InvalidReps}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *EngineMetrics) sent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *EngineMetrics) lost() {
	if m == nil {
		return
	}
	m.MessagesLost.Inc()
}

func (m *EngineMetrics) latency(delay int64) {
	if m == nil {
		return
	}
	m.Latency.Observe(float64(delay))
}

func (m *EngineMetrics) nodes(active, dead, links int) {
	if m == nil {
		return
	}
	m.ActiveNodes.Set(float64(active))
	m.DeadNodes.Set(float64(dead))
	m.Links.Set(float64(links))
}

func (m *EngineMetrics) dynamics(kind EventKind, n int) {
	if m == nil || n == 0 {
		return
	}
	if n < 0 {
		n = -n
	}
	m.ChurnEvents.WithLabelValues(kind.String()).Add(float64(n))
}

func (m *EngineMetrics) invalidRep() {
	if m == nil {
		return
	}
	m.InvalidReps.Inc()
}
