package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so each process (and each test) gets an
// isolated collector set.
type Metrics struct {
	registry *prometheus.Registry

	Deliveries      *prometheus.CounterVec
	ReconcilePasses *prometheus.CounterVec
	PushMessages    *prometheus.CounterVec
	PushSessions    prometheus.Gauge
	EventsIngested  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proofwatch_deliveries_total",
			Help: "Delivery attempts by outcome (delivered, skipped, failed).",
		}, []string{"outcome"}),
		ReconcilePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proofwatch_reconcile_passes_total",
			Help: "Reconciler passes by result (ok, error).",
		}, []string{"result"}),
		PushMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proofwatch_push_messages_total",
			Help: "Push channel frames by type (event, malformed, unknown).",
		}, []string{"type"}),
		PushSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proofwatch_push_sessions_active",
			Help: "Currently connected push sessions.",
		}),
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proofwatch_events_ingested_total",
			Help: "Events stored from the chain by mode (live, backfill, push).",
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		m.Deliveries,
		m.ReconcilePasses,
		m.PushMessages,
		m.PushSessions,
		m.EventsIngested,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
