package ports

import "time"

// MetricsCollector records pipeline metrics.
type MetricsCollector interface {
	RecordRunSubmitted()
	RecordRunCompleted(status string, route string, duration time.Duration)
	RecordStageExecuted(stage string, status string, duration time.Duration)
	RecordViolation(category string)
	RecordEventPublished(eventType string)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveRuns(count int)
	ObserveLLMLatency(model string, duration time.Duration)
	IncLLMTokens(model string, tokenType string, count int)
}
