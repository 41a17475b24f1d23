package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/reliability"
)

// Metrics groups all Prometheus instruments used by the relay. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	FlushedFrames   prometheus.Histogram
	PipelineLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live relay sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Client websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_latency_ms",
			Help:      "Provider call latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1000, 1500, 2500, 5000, 10000},
		}, []string{"provider"}),
		FlushedFrames: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_buffered_frames",
			Help:      "Audio frames buffered before the STT link became ready.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_ms",
			Help:      "Latency from finalized transcript to synthesized audio in milliseconds.",
			Buckets:   []float64{300, 500, 700, 900, 1200, 2000, 3000, 5000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("started").Inc()
}

// SessionEnded records the end of a session and the reason class
// ("client", "stt", "forced", "refused", ...).
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues("ended_" + reason).Inc()
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObserveProviderCall records latency and, for failures, the classified
// error code.
func (m *Metrics) ObserveProviderCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider).Observe(float64(d.Milliseconds()))
	if err != nil {
		m.ProviderError(provider, err)
	}
}

func (m *Metrics) ProviderError(provider string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, reliability.Classify(err)).Inc()
}

func (m *Metrics) ObserveFlush(frames int) {
	if m == nil {
		return
	}
	m.FlushedFrames.Observe(float64(frames))
}

func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StagePipeline, d)
}

// ObserveStage adds a sample to the in-process latency window served by the
// perf endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.Observe(stage, d)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stages == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
