package domain

import "time"

// StageStatus is the outcome of one stage invocation.
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	StageStatusError   StageStatus = "error"
	StageStatusSkipped StageStatus = "skipped"
)

// SideEffect records one external call a stage made, for audit.
type SideEffect struct {
	Tool   string                 `json:"tool"`
	Input  map[string]interface{} `json:"input,omitempty"`
	Output map[string]interface{} `json:"output,omitempty"`
}

// StageResult is the uniform envelope every stage returns.
type StageResult struct {
	StageName   string       `json:"stageName"`
	Status      StageStatus  `json:"status"`
	Output      Payload      `json:"output"`
	SideEffects []SideEffect `json:"sideEffects"`
	DurationMs  int64        `json:"durationMs"`

	// Degraded is set when the stage ran although a predecessor did not succeed.
	Degraded    bool      `json:"degraded,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// Succeeded reports whether the stage finished with status success.
func (r StageResult) Succeeded() bool {
	return r.Status == StageStatusSuccess
}

// ErrorDescriptor is one entry of State.Errors.
type ErrorDescriptor struct {
	Stage     string    `json:"stage,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
