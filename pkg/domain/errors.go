package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a run, memory entry or subscriber does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRun is returned when a State is handed to the executor twice.
	ErrAlreadyRun = errors.New("state has already been executed")
	// ErrSlotTaken is returned when a stage slot is written a second time.
	ErrSlotTaken = errors.New("slot already written")
	// ErrVerdictSet is returned when the terminal verdict is written a second time.
	ErrVerdictSet = errors.New("terminal verdict already set")
)

// Error kinds as they appear in State.Errors.
const (
	KindConfiguration = "configuration"
	KindStage         = "stage"
	KindTimeout       = "timeout"
	KindCancelled     = "cancelled"
	KindStorage       = "storage"
	KindExecution     = "execution"
)

// ConfigurationError reports an invalid graph or deployment setting. It is
// fatal and never retried.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StageError reports that one stage's function failed. The run continues.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// TimeoutError reports an exceeded deadline. Stage is empty for the
// whole-run budget.
type TimeoutError struct {
	Stage string
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("run deadline exceeded: %v", e.Err)
	}
	return fmt.Sprintf("stage %s timed out: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StorageError wraps a memory store or archive I/O failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsTimeout reports whether err wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// KindOf maps an error onto the State.Errors kind label.
func KindOf(err error) string {
	switch {
	case IsConfigurationError(err):
		return KindConfiguration
	case IsTimeout(err):
		return KindTimeout
	case IsStorageError(err):
		return KindStorage
	}
	var se *StageError
	if errors.As(err, &se) {
		if errors.Is(err, context.Canceled) {
			return KindCancelled
		}
		return KindStage
	}
	return KindExecution
}
