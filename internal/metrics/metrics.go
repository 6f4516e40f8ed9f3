// Package metrics exposes Prometheus collectors for the snapshot feed and
// chat sessions.
package metrics

import (
	"net/http"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomsync"

// Metrics holds the collectors on a private registry so several instances
// can coexist, as they do in tests.
type Metrics struct {
	Registry *prometheus.Registry

	feedClients    prometheus.Gauge
	snapshots      prometheus.Counter
	logSize        prometheus.Gauge
	actionFailures *prometheus.CounterVec
}

// New registers every collector, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Websocket clients currently attached to the snapshot feed.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "snapshots_total",
			Help:      "Snapshots received from the message log and broadcast.",
		}),
		logSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "log_messages",
			Help:      "Messages in the most recent snapshot.",
		}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "action_failures_total",
			Help:      "Failed session actions by operation.",
		}, []string{"op"}),
	}

	m.Registry.MustRegister(
		m.feedClients,
		m.snapshots,
		m.logSize,
		m.actionFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ClientsChanged records the number of attached feed clients.
func (m *Metrics) ClientsChanged(n int) {
	m.feedClients.Set(float64(n))
}

// SnapshotBroadcast records one snapshot of the given size.
func (m *Metrics) SnapshotBroadcast(messages int) {
	m.snapshots.Inc()
	m.logSize.Set(float64(messages))
}

// Notifier counts failed actions by op before passing them on to next.
func (m *Metrics) Notifier(next chat.Notifier) chat.Notifier {
	return chat.NotifierFunc(func(n chat.Notice) {
		m.actionFailures.WithLabelValues(n.Op).Inc()
		if next != nil {
			next.Notify(n)
		}
	})
}
