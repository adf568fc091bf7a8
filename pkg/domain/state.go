package domain

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// RunStatus is the lifecycle status of one pipeline invocation.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StateView is the read-only face of State handed to stages.
type StateView interface {
	ID() string
	SessionID() string
	Input() Payload
	Slot(stage string) (StageResult, bool)
}

// State is the single mutable record threaded through the graph.
//
// Every mutation takes the state lock, so concurrent stages in the same
// wave append in completion order and readers after the wave barrier see
// all of the wave's writes.
type State struct {
	id        string
	sessionID string
	input     Payload

	started atomic.Bool

	mu          sync.RWMutex
	status      RunStatus
	slots       map[string]StageResult
	log         []StageResult
	errs        []ErrorDescriptor
	verdict     *Verdict
	final       *FinalResponse
	startedAt   *time.Time
	completedAt *time.Time
}

// NewState seeds a State. The ids are fixed for the State's lifetime.
func NewState(id, sessionID string, input Payload) *State {
	if input == nil {
		input = Payload{}
	}
	return &State{
		id:        id,
		sessionID: sessionID,
		input:     input,
		status:    RunStatusPending,
		slots:     make(map[string]StageResult),
		log:       make([]StageResult, 0),
		errs:      make([]ErrorDescriptor, 0),
	}
}

// ID returns the run id.
func (s *State) ID() string { return s.id }

// SessionID returns the session id.
func (s *State) SessionID() string { return s.sessionID }

// Input returns the raw request.
func (s *State) Input() Payload { return s.input }

// Begin marks the State as executing. It fails if the State was already
// handed to an executor, which bounds every State to one graph execution.
func (s *State) Begin() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	now := time.Now()
	s.mu.Lock()
	s.status = RunStatusRunning
	s.startedAt = &now
	s.mu.Unlock()
	return nil
}

// Record merges a stage result: the slot is written once, the result is
// appended to the execution log, and a non-nil cause is appended to Errors.
func (s *State) Record(result StageResult, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[result.StageName]; exists {
		return ErrSlotTaken
	}
	s.slots[result.StageName] = result
	s.log = append(s.log, result)

	if cause != nil {
		s.errs = append(s.errs, ErrorDescriptor{
			Stage:     result.StageName,
			Kind:      KindOf(cause),
			Message:   cause.Error(),
			Timestamp: result.CompletedAt,
		})
	}
	return nil
}

// AppendError records a run-level error.
func (s *State) AppendError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.errs = append(s.errs, ErrorDescriptor{
		Kind:      KindOf(err),
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
	s.mu.Unlock()
}

// Slot returns the result written by stage.
func (s *State) Slot(stage string) (StageResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.slots[stage]
	return r, ok
}

// HasSlot reports whether stage has written its slot.
func (s *State) HasSlot(stage string) bool {
	_, ok := s.Slot(stage)
	return ok
}

// ExecutionLog returns a copy of the execution log.
func (s *State) ExecutionLog() []StageResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StageResult, len(s.log))
	copy(out, s.log)
	return out
}

// Errors returns a copy of the accumulated errors.
func (s *State) Errors() []ErrorDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ErrorDescriptor, len(s.errs))
	copy(out, s.errs)
	return out
}

// SetVerdict stores the terminal verdict. It can only be set once.
func (s *State) SetVerdict(v Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verdict != nil {
		return ErrVerdictSet
	}
	s.verdict = &v
	return nil
}

// Verdict returns the terminal verdict, if set.
func (s *State) Verdict() (Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.verdict == nil {
		return Verdict{}, false
	}
	return *s.verdict, true
}

// Finish closes the run with the given status. When a verdict is present
// the final response is derived from it.
func (s *State) Finish(status RunStatus) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.completedAt = &now
	if s.verdict != nil && s.final == nil {
		s.final = NewFinalResponse(*s.verdict)
	}
}

// Status returns the run status.
func (s *State) Status() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// FinalResponse returns the caller-facing response, nil if the run aborted
// before the decision stage.
func (s *State) FinalResponse() *FinalResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.final
}

// Snapshot is the serializable form of State.
type Snapshot struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"sessionId"`
	Status        RunStatus              `json:"status"`
	Input         Payload                `json:"input"`
	Slots         map[string]StageResult `json:"slots"`
	ExecutionLog  []StageResult          `json:"executionLog"`
	Errors        []ErrorDescriptor      `json:"errors"`
	Verdict       *Verdict               `json:"terminalVerdict,omitempty"`
	FinalResponse *FinalResponse         `json:"finalResponse,omitempty"`
	StartedAt     *time.Time             `json:"startedAt,omitempty"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty"`
}

// RetainedFrom is the instant archive retention is measured from: the
// completion time, else the start time, else now.
func (s *Snapshot) RetainedFrom(now time.Time) time.Time {
	switch {
	case s.CompletedAt != nil:
		return *s.CompletedAt
	case s.StartedAt != nil:
		return *s.StartedAt
	}
	return now
}

// Snapshot copies the State into its serializable form.
func (s *State) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		ID:            s.id,
		SessionID:     s.sessionID,
		Status:        s.status,
		Input:         s.input,
		Slots:         make(map[string]StageResult, len(s.slots)),
		ExecutionLog:  make([]StageResult, len(s.log)),
		Errors:        make([]ErrorDescriptor, len(s.errs)),
		FinalResponse: s.final,
		StartedAt:     s.startedAt,
		CompletedAt:   s.completedAt,
	}
	for k, v := range s.slots {
		snap.Slots[k] = v
	}
	copy(snap.ExecutionLog, s.log)
	copy(snap.Errors, s.errs)
	if s.verdict != nil {
		v := *s.verdict
		snap.Verdict = &v
	}
	return snap
}

// MarshalJSON serializes the State through its Snapshot.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
