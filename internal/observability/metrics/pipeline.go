package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks ingestion runs. It implements Recorder with
// operation set to the pipeline stage name.
type PipelineMetrics struct {
	runsTotal        *prometheus.CounterVec
	activeRuns       prometheus.Gauge
	stageTotal       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stageErrors      *prometheus.CounterVec
	detectionsStored prometheus.Counter

	registry *prometheus.Registry
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Completed ingestion runs by outcome",
		},
		[]string{"outcome"}, // success, error
	)

	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_runs_active",
		Help: "Ingestion runs currently executing",
	})

	m.stageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_total",
			Help: "Pipeline stage executions by stage and status",
		},
		[]string{"stage", "status"},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, 22), // 1ms to ~35min
		},
		[]string{"stage"},
	)

	m.stageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_errors_total",
			Help: "Pipeline stage failures by stage and error category",
		},
		[]string{"stage", "category"},
	)

	m.detectionsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_detections_stored_total",
		Help: "Detections written by successful ingestions",
	})
}

func (m *PipelineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal, m.activeRuns, m.stageTotal, m.stageDuration, m.stageErrors, m.detectionsStored,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordOperation implements Recorder.
func (m *PipelineMetrics) RecordOperation(operation, status string) {
	m.stageTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *PipelineMetrics) RecordDuration(operation string, seconds float64) {
	m.stageDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *PipelineMetrics) RecordError(operation, errorType string) {
	m.stageErrors.WithLabelValues(operation, errorType).Inc()
}

// RunStarted marks a run as active.
func (m *PipelineMetrics) RunStarted() {
	m.activeRuns.Inc()
}

// RunFinished records the outcome of a run and clears it from the active gauge.
func (m *PipelineMetrics) RunFinished(status string) {
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
}

// AddDetectionsStored counts detections written by an ingestion.
func (m *PipelineMetrics) AddDetectionsStored(n int) {
	m.detectionsStored.Add(float64(n))
}
