package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted  prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	activeRuns     prometheus.Gauge
	stagesExecuted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	violations     *prometheus.CounterVec
	events         *prometheus.CounterVec

	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge

	llmLatency *prometheus.HistogramVec
	llmTokens  *prometheus.CounterVec
}

// NewCollector creates a collector registered on reg. Passing
// prometheus.DefaultRegisterer exposes the metrics on the default handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "triage_runs_submitted_total",
				Help: "Total number of pipeline runs submitted",
			},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_runs_completed_total",
				Help: "Total number of pipeline runs finished, by status and route",
			},
			[]string{"status", "route"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_active_runs",
				Help: "Number of currently executing runs",
			},
		),
		stagesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_stages_executed_total",
				Help: "Total number of stage executions",
			},
			[]string{"stage", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_stage_duration_seconds",
				Help:    "Stage execution duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_policy_violations_total",
				Help: "Total number of policy violations, by category",
			},
			[]string{"category"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_events_published_total",
				Help: "Total number of events published on the bus",
			},
			[]string{"type"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_llm_latency_seconds",
				Help:    "Reasoner call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"model"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_llm_tokens_total",
				Help: "Total number of reasoner tokens used",
			},
			[]string{"model", "type"},
		),
	}
}

// RecordRunSubmitted counts a submitted run
func (c *Collector) RecordRunSubmitted() {
	c.runsSubmitted.Inc()
}

// RecordRunCompleted counts a finished run and observes its duration
func (c *Collector) RecordRunCompleted(status string, route string, duration time.Duration) {
	if route == "" {
		route = "none"
	}
	c.runsCompleted.WithLabelValues(status, route).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStageExecuted counts a stage execution and observes its duration
func (c *Collector) RecordStageExecuted(stage string, status string, duration time.Duration) {
	c.stagesExecuted.WithLabelValues(stage, status).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordViolation counts a policy violation
func (c *Collector) RecordViolation(category string) {
	c.violations.WithLabelValues(category).Inc()
}

// RecordEventPublished counts a published event
func (c *Collector) RecordEventPublished(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetActiveRuns sets the number of currently executing runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// ObserveLLMLatency records the latency of a reasoner call
func (c *Collector) ObserveLLMLatency(model string, duration time.Duration) {
	c.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// IncLLMTokens increments the count of reasoner tokens used
func (c *Collector) IncLLMTokens(model string, tokenType string, count int) {
	c.llmTokens.WithLabelValues(model, tokenType).Add(float64(count))
}
