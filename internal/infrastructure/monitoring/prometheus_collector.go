package monitoring

import (
	"time"

	"streamrelay/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records relay and registry metrics. It satisfies
// ports.RelayMetrics.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	roomsActive       prometheus.Gauge
	roomsCreatedTotal prometheus.Counter

	messagesRelayed *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec

	registryDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers the collectors with reg. Passing nil uses
// the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamrelay_connections_active",
			Help: "Number of open signaling connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_connections_total",
			Help: "Total number of signaling connections accepted",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamrelay_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		roomsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_rooms_created_total",
			Help: "Total number of rooms created",
		}),

		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_messages_relayed_total",
			Help: "Messages delivered to a participant queue, by type",
		}, []string{"type"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_messages_dropped_total",
			Help: "Messages that were not delivered, by type and reason",
		}, []string{"type", "reason"}),

		registryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamrelay_registry_operation_duration_seconds",
			Help:    "Duration of peer registry operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
		}, []string{"operation", "outcome"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) RoomCreated(domain.StreamID) {
	p.roomsActive.Inc()
	p.roomsCreatedTotal.Inc()
}

func (p *PrometheusCollector) RoomRemoved(domain.StreamID) {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) MessageRelayed(t domain.EventType) {
	p.messagesRelayed.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) MessageDropped(t domain.EventType, reason string) {
	p.messagesDropped.WithLabelValues(string(t), reason).Inc()
}

// RecordRegistryOperation observes one register or lookup call. outcome is
// "ok", "not_found" or "error".
func (p *PrometheusCollector) RecordRegistryOperation(operation, outcome string, duration time.Duration) {
	p.registryDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}
