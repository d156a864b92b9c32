package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the capture engine and pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	EngineGeneration  prometheus.Gauge
	EngineRecreations prometheus.Counter
	EngineNaps        prometheus.Counter
	EngineRestarts    *prometheus.CounterVec
	BuffersDropped    prometheus.Counter
	InputLevel        prometheus.Gauge

	// Pipeline metrics
	RecordingsDiscarded prometheus.Counter
	JobsCompleted       prometheus.Counter
	JobsCancelled       prometheus.Counter
	StageFailures       *prometheus.CounterVec
	Translations        *prometheus.CounterVec
	Insertions          *prometheus.CounterVec
	RetryOutcomes       *prometheus.CounterVec

	// Upload metrics
	UploadSegments prometheus.Histogram
	UploadBytes    prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EngineGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_engine_generation",
			Help: "Current capture device generation",
		}),
		EngineRecreations: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_engine_recreations_total",
			Help: "Total number of capture device recreations",
		}),
		EngineNaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_engine_naps_total",
			Help: "Total number of idle power-downs",
		}),
		EngineRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_engine_restarts_total",
			Help: "Capture device restart attempts by result",
		}, []string{"result"}),
		BuffersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_engine_buffers_dropped_total",
			Help: "Buffers dropped because the capture queue was full",
		}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_engine_input_level",
			Help: "Most recent input level in [0,1]",
		}),

		RecordingsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_recordings_discarded_total",
			Help: "Recordings discarded for being shorter than the minimum duration",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_jobs_completed_total",
			Help: "Pipeline jobs that delivered text",
		}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_jobs_cancelled_total",
			Help: "Pipeline jobs cancelled before completion",
		}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_stage_failures_total",
			Help: "Pipeline failures by stage",
		}, []string{"stage"}),
		Translations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_translations_total",
			Help: "Translation step outcomes (translated, skipped_same_language, skipped_disabled)",
		}, []string{"outcome"}),
		Insertions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_insertions_total",
			Help: "Text deliveries by method",
		}, []string{"method"}),
		RetryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_retry_outcomes_total",
			Help: "Failed recording retry outcomes",
		}, []string{"outcome"}),

		UploadSegments: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_upload_segments",
			Help:    "Number of upload segments produced per recording",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_upload_segment_bytes",
			Help:    "Size of accepted upload segments",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10),
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "murmur_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetGeneration(gen uint64) {
	if m == nil {
		return
	}
	m.EngineGeneration.Set(float64(gen))
}

func (m *Metrics) Recreated() {
	if m == nil {
		return
	}
	m.EngineRecreations.Inc()
}

func (m *Metrics) Napped() {
	if m == nil {
		return
	}
	m.EngineNaps.Inc()
}

func (m *Metrics) RestartAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.EngineRestarts.WithLabelValues(result).Inc()
}

func (m *Metrics) BufferDropped() {
	if m == nil {
		return
	}
	m.BuffersDropped.Inc()
}

func (m *Metrics) Level(v float64) {
	if m == nil {
		return
	}
	m.InputLevel.Set(v)
}

func (m *Metrics) Discarded() {
	if m == nil {
		return
	}
	m.RecordingsDiscarded.Inc()
}

func (m *Metrics) Completed() {
	if m == nil {
		return
	}
	m.JobsCompleted.Inc()
}

func (m *Metrics) Cancelled() {
	if m == nil {
		return
	}
	m.JobsCancelled.Inc()
}

func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) Translation(outcome string) {
	if m == nil {
		return
	}
	m.Translations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Inserted(method string) {
	if m == nil {
		return
	}
	m.Insertions.WithLabelValues(method).Inc()
}

func (m *Metrics) Retry(outcome string) {
	if m == nil {
		return
	}
	m.RetryOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Segments(count int, sizes []int64) {
	if m == nil {
		return
	}
	m.UploadSegments.Observe(float64(count))
	for _, size := range sizes {
		m.UploadBytes.Observe(float64(size))
	}
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}
