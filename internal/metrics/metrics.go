package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lesson_sessions_active",
		Help: "Currently active lesson sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lesson_sessions_total",
		Help: "Total lesson sessions started",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_turns_total",
		Help: "Completed turns persisted, by speaker and pipeline",
	}, []string{"speaker", "pipeline"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_stage_duration_seconds",
		Help:    "Per-stage vendor call latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Provider error counts by stage and class",
	}, []string{"stage", "class"})

	Downgrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provider_downgrades_total",
		Help: "Automatic streaming-to-legacy downgrades",
	})

	EmptyResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provider_empty_responses_total",
		Help: "Turns that completed with zero generated content",
	})

	AckTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_ack_timeouts_total",
		Help: "Bounded acknowledgment waits that fell back to proceed-anyway",
	}, []string{"kind"})

	RuleInjections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_injections_total",
		Help: "Directive injections delivered to the live conversation",
	}, []string{"type", "kind"})

	AnalysisQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analysis_queue_depth",
		Help: "Turns waiting in the analysis pipeline queue",
	})

	AnalysisDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_dropped_total",
		Help: "Turns dropped because the analysis queue was full",
	})

	KnowledgeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_events_total",
		Help: "Learning signals emitted by the analysis pipeline",
	}, []string{"type"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_chunks_processed_total",
		Help: "Total client audio chunks received",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_segments_total",
		Help: "Speech segments detected by the legacy endpoint detector",
	})
)
