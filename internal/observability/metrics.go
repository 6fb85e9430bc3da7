package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	Turns          *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
	TurnLatency    *prometheus.HistogramVec

	stages *turnStageWindow
}

// NewMetrics registers instruments on the default registry. Call it once per
// process.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers instruments on reg; tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by intent and outcome.",
		}, []string{"intent", "outcome"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed collaborator calls by collaborator.",
		}, []string{"collaborator"}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Turn latency in milliseconds by intent.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"intent"}),
		stages: newTurnStageWindow(256),
	}
}

// RegisterKnowledgeGauge exports the knowledge store size, read on scrape.
func (m *Metrics) RegisterKnowledgeGauge(reg prometheus.Registerer, namespace string, size func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "knowledge_records",
		Help:      "Movie contexts stored in the knowledge index.",
	}, func() float64 { return float64(size()) })
}

func (m *Metrics) ObserveTurn(intent, outcome string, d time.Duration) {
	m.Turns.WithLabelValues(intent, outcome).Inc()
	m.TurnLatency.WithLabelValues(intent).Observe(float64(d.Milliseconds()))
	m.stages.Observe("turn_total", float64(d.Microseconds())/1000)
	if outcome != "ok" {
		m.stages.ObserveIndicator("turn_" + outcome)
	}
}

func (m *Metrics) ObserveUpstreamError(collaborator string) {
	m.UpstreamErrors.WithLabelValues(collaborator).Inc()
	m.stages.ObserveIndicator(collaborator + "_error")
}

func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
