// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ConnectedParticipants prometheus.Gauge
	ActiveRooms           prometheus.Gauge
	PacketsReceived       prometheus.Counter
	PacketLatency         prometheus.Histogram
	EventsAppended        *prometheus.CounterVec
	Draws                 *prometheus.CounterVec
	PurgeDeletes          *prometheus.CounterVec
	BestEffortFailures    *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectedParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_participants",
			Help:      "Number of connected participants",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with a live session on this server",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total number of client packets received",
		}),
		PacketLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_latency_seconds",
			Help:      "Client packet handling latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Room events appended, by action",
		}, []string{"action"}),
		Draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Draw requests, by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		PurgeDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purge_deletes_total",
			Help:      "Documents deleted while terminating rooms, by collection",
		}, []string{"collection"}),
		BestEffortFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Failed best-effort writes, by operation",
		}, []string{"operation"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectedParticipants,
		m.ActiveRooms,
		m.PacketsReceived,
		m.PacketLatency,
		m.EventsAppended,
		m.Draws,
		m.PurgeDeletes,
		m.BestEffortFailures,
	}
}

// Monitor owns a private registry so several servers (or tests) can coexist
// in one process. A nil *Monitor records nothing.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace),
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	m.registry.MustRegister(m.metrics.collectors()...)
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) IncParticipants() {
	if m == nil {
		return
	}
	m.metrics.ConnectedParticipants.Inc()
}

func (m *Monitor) DecParticipants() {
	if m == nil {
		return
	}
	m.metrics.ConnectedParticipants.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncPacketsReceived() {
	if m == nil {
		return
	}
	m.metrics.PacketsReceived.Inc()
}

func (m *Monitor) ObservePacketLatency(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.PacketLatency.Observe(duration.Seconds())
}

func (m *Monitor) IncEvent(action string) {
	if m == nil {
		return
	}
	m.metrics.EventsAppended.WithLabelValues(action).Inc()
}

func (m *Monitor) IncDraw(strategy, outcome string) {
	if m == nil {
		return
	}
	m.metrics.Draws.WithLabelValues(strategy, outcome).Inc()
}

func (m *Monitor) AddPurged(collection string, n int) {
	if m == nil {
		return
	}
	m.metrics.PurgeDeletes.WithLabelValues(collection).Add(float64(n))
}

func (m *Monitor) IncBestEffortFailure(operation string) {
	if m == nil {
		return
	}
	m.metrics.BestEffortFailures.WithLabelValues(operation).Inc()
}
