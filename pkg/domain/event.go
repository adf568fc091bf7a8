package domain

import "time"

// EventType labels an Event.
type EventType string

const (
	EventTypeRunStarted     EventType = "run_started"
	EventTypeRunCompleted   EventType = "run_completed"
	EventTypeRunFailed      EventType = "run_failed"
	EventTypeRunCancelled   EventType = "run_cancelled"
	EventTypeStageStarted   EventType = "stage_started"
	EventTypeStageCompleted EventType = "stage_completed"
	EventTypeStageSkipped   EventType = "stage_skipped"
	EventTypeVerdict        EventType = "verdict"
	EventTypeFinalResponse  EventType = "final_response"
	EventTypeHeartbeat      EventType = "heartbeat"
)

// Event is one entry of the observability trace. Once published it is
// never modified; subscribers receive it by value.
type Event struct {
	ID        string                 `json:"id,omitempty"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"runId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	// Seq is assigned by the bus and increases monotonically per process.
	Seq  uint64                 `json:"seq"`
	Data map[string]interface{} `json:"data"`
}
