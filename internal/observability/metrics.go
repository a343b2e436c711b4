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
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	Utterances        *prometheus.CounterVec
	StaleEvents       prometheus.Counter
	InvalidOperations *prometheus.CounterVec
	VoiceRescans      prometheus.Counter
	PreferredScore    *prometheus.GaugeVec
	PublishErrors     *prometheus.CounterVec
	StartLatency      prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active playback sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound device messages by type and delivery result.",
		}, []string{"type", "result"}),
		Utterances: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances by language and outcome.",
		}, []string{"language", "result"}),
		StaleEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_utterance_events_total",
			Help:      "Engine events dropped because their utterance was superseded.",
		}),
		InvalidOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_operations_total",
			Help:      "Playback controls ignored because the session state did not allow them.",
		}, []string{"op"}),
		VoiceRescans: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_rescans_total",
			Help:      "Voice catalog rescans.",
		}),
		PreferredScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preferred_voice_score",
			Help:      "Quality score of the preferred voice per language (0 when absent).",
		}, []string{"language"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Playback event publish failures by kind.",
		}, []string{"kind"}),
		StartLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speak_to_start_latency_ms",
			Help:      "Latency from speak request to engine start in milliseconds.",
			Buckets:   []float64{25, 50, 100, 200, 300, 500, 800, 1200, 2000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveStartLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.StartLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("speak_to_start", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) ObserveUtterance(language, result string) {
	if m == nil {
		return
	}
	m.Utterances.WithLabelValues(language, result).Inc()
}

func (m *Metrics) ObserveStaleEvent() {
	if m == nil {
		return
	}
	m.StaleEvents.Inc()
	m.stages.ObserveIndicator("stale_event_dropped")
}

func (m *Metrics) ObserveInvalidOperation(op string) {
	if m == nil {
		return
	}
	m.InvalidOperations.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveRescan(scores map[string]int) {
	if m == nil {
		return
	}
	m.VoiceRescans.Inc()
	for lang, score := range scores {
		m.PreferredScore.WithLabelValues(lang).Set(float64(score))
	}
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObservePublishError(kind string) {
	if m == nil {
		return
	}
	m.PublishErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
