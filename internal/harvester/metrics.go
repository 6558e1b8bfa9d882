package harvester

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
)

// Metrics bundles Prometheus collectors for the ingest pipeline. A nil *Metrics
// records nothing.
type Metrics struct {
	received     *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	published    *prometheus.CounterVec
	restarts     *prometheus.CounterVec
	state        *prometheus.GaugeVec
	giftEntries  prometheus.Gauge
	openStacks   prometheus.Gauge
	anonymous    prometheus.Gauge
	correlations prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "raw_events_total",
			Help:      "Raw events received from connectors",
		}, []string{"platform"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "raw_events_dropped_total",
			Help:      "Raw events that produced no event",
		}, []string{"platform", "reason"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "events_duplicate_total",
			Help:      "Events suppressed by the dedup window",
		}, []string{"platform"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "events_published_total",
			Help:      "Events published on the bus",
		}, []string{"platform", "kind"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "connector_restarts_total",
			Help:      "Connector restarts requested by an operator or a credential change",
		}, []string{"platform"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "connector_state",
			Help:      "Connector status: 0 disconnected, 1 connecting, 2 connected, 3 degraded, -1 stopped",
		}, []string{"platform"}),
		giftEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "gift_correlations_open",
			Help:      "Mass gifts still waiting for recipient events",
		}),
		openStacks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "gift_stacks_open",
			Help:      "Stacking gifts not yet finalized",
		}),
		anonymous: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "gift_anonymous_total",
			Help:      "Received gifts with no matching purchase",
		}),
		correlations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "gift_correlated_total",
			Help:      "Received gifts matched to a purchase",
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.received,
		m.dropped,
		m.duplicates,
		m.published,
		m.restarts,
		m.state,
		m.giftEntries,
		m.openStacks,
		m.anonymous,
		m.correlations,
	}
}

func (m *Metrics) IncReceived(p core.Platform) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) IncDropped(p core.Platform, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(string(p), reason).Inc()
}

func (m *Metrics) IncDuplicate(p core.Platform) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) IncPublished(p core.Platform, update bool) {
	if m == nil {
		return
	}
	kind := "final"
	if update {
		kind = "update"
	}
	m.published.WithLabelValues(string(p), kind).Inc()
}

func (m *Metrics) IncRestarts(p core.Platform) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) SetState(p core.Platform, s core.ConnectionState) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(string(p)).Set(stateValue(s))
}

// ObserveCorrelator copies correlator counters into gauges.
func (m *Metrics) ObserveCorrelator(s correlate.Stats) {
	if m == nil {
		return
	}
	m.giftEntries.Set(float64(s.GiftEntries))
	m.openStacks.Set(float64(s.OpenStacks))
	m.anonymous.Set(float64(s.Anonymous))
	m.correlations.Set(float64(s.Correlated))
}

func stateValue(s core.ConnectionState) float64 {
	if s.Terminal {
		return -1
	}
	switch s.Status {
	case core.StatusConnecting:
		return 1
	case core.StatusConnected:
		return 2
	case core.StatusDegraded:
		return 3
	default:
		return 0
	}
}
