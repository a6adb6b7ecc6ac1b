package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/pkg/logger"
)

const namespace = "chat"

// Metrics implements hub.Observer and carries the service-level counters.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ActiveGroups      prometheus.Gauge
	Deliveries        *prometheus.CounterVec
	DeliveryFailures  *prometheus.CounterVec
	ReactionToggles   *prometheus.CounterVec
	MessagesSent      prometheus.Counter
	UploadBytes       prometheus.Counter
	InboundRejected   *prometheus.CounterVec
}

var _ hub.Observer = (*Metrics)(nil)

// New registers the collectors on reg. Passing nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_entries_sampled_out_total",
		Help:      "Log entries discarded by the zap sampler during bursts",
	}, func() float64 { return float64(logger.Dropped()) })
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_active_connections",
			Help:      "Current number of registered hub connections",
		}),
		ActiveGroups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_active_groups",
			Help:      "Current number of non-empty groups",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_deliveries_total",
			Help:      "Frames handed to connections, by target and event type",
		}, []string{"target", "type"}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_delivery_failures_total",
			Help:      "Per-recipient delivery failures, by target and event type",
		}, []string{"target", "type"}),
		ReactionToggles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaction_toggles_total",
			Help:      "Reaction toggles by outcome",
		}, []string{"outcome"}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted and broadcast",
		}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes accepted by the attachment upload",
		}),
		InboundRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_inbound_rejected_total",
			Help:      "Inbound ws requests rejected before dispatch",
		}, []string{"reason"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) GroupCreated() {
	if m == nil {
		return
	}
	m.ActiveGroups.Inc()
}

func (m *Metrics) GroupRemoved() {
	if m == nil {
		return
	}
	m.ActiveGroups.Dec()
}

func (m *Metrics) Broadcast(target hub.Target, eventType hub.EventType, d hub.Delivery) {
	if m == nil {
		return
	}
	if d.Delivered > 0 {
		m.Deliveries.WithLabelValues(string(target), string(eventType)).Add(float64(d.Delivered))
	}
	if d.Failed > 0 {
		m.DeliveryFailures.WithLabelValues(string(target), string(eventType)).Add(float64(d.Failed))
	}
}

func (m *Metrics) ReactionToggled(kind domain.OutcomeKind) {
	if m == nil {
		return
	}
	m.ReactionToggles.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) Uploaded(size int64) {
	if m == nil {
		return
	}
	m.UploadBytes.Add(float64(size))
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.InboundRejected.WithLabelValues(reason).Inc()
}
