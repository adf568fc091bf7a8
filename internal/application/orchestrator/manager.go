package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRunTimeout is the whole-run budget when none is configured.
const DefaultRunTimeout = 120 * time.Second

// CompletionHook runs after a run finished and was archived. Hooks must not
// fail the run; they log their own errors.
type CompletionHook func(ctx context.Context, state *domain.State)

// Manager coordinates pipeline runs: it seeds the State, tracks in-flight
// runs for cancellation, publishes run lifecycle events, archives finished
// runs and invokes completion hooks.
type Manager struct {
	executor *Executor
	graph    *Graph
	eventBus ports.EventPublisher
	runs     ports.RunStore
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	hooks    []CompletionHook

	// Track active executions
	executions sync.Map // map[string]*executionContext
	active     atomic.Int64

	runTimeout time.Duration
}

// executionContext holds state for a single in-flight run
type executionContext struct {
	state      *domain.State
	startedAt  time.Time
	cancelFunc context.CancelFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRunStore archives every finished run.
func WithRunStore(s ports.RunStore) ManagerOption {
	return func(m *Manager) { m.runs = s }
}

// WithManagerMetrics records run metrics.
func WithManagerMetrics(c ports.MetricsCollector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// WithRunTimeout sets the whole-run wall-clock budget.
func WithRunTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.runTimeout = d
		}
	}
}

// WithCompletionHook adds a hook run after every finished run.
func WithCompletionHook(h CompletionHook) ManagerOption {
	return func(m *Manager) { m.hooks = append(m.hooks, h) }
}

// NewManager creates a new orchestrator manager
func NewManager(
	executor *Executor,
	graph *Graph,
	eventBus ports.EventPublisher,
	logger *zap.Logger,
	opts ...ManagerOption,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		executor:   executor,
		graph:      graph,
		eventBus:   eventBus,
		logger:     logger,
		runTimeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit runs the pipeline once over input and returns the final State.
// The State is returned even when err is non-nil; err reports an aborted
// run and the State's Errors hold the details.
func (m *Manager) Submit(ctx context.Context, input domain.Payload) (*domain.State, error) {
	runID := uuid.New().String()
	sessionID := input.String("sessionId")
	if sessionID == "" {
		sessionID = input.String("session_id")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	state := domain.NewState(runID, sessionID, input)

	execCtx, cancel := context.WithTimeout(ctx, m.runTimeout)
	defer cancel()

	m.executions.Store(runID, &executionContext{
		state:      state,
		startedAt:  time.Now(),
		cancelFunc: cancel,
	})
	defer m.executions.Delete(runID)

	m.setActive(m.active.Add(1))
	defer func() { m.setActive(m.active.Add(-1)) }()

	if m.metrics != nil {
		m.metrics.RecordRunSubmitted()
	}
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("session_id", sessionID))

	m.publish(ctx, runID, domain.EventTypeRunStarted, map[string]interface{}{
		"sessionId": sessionID,
	})

	start := time.Now()
	_, runErr := m.executor.Run(execCtx, m.graph, state)
	duration := time.Since(start)

	m.finish(ctx, state, runErr, duration)

	return state, runErr
}

func (m *Manager) finish(ctx context.Context, state *domain.State, runErr error, duration time.Duration) {
	// The request context may be gone; bookkeeping still has to happen.
	ctx = context.WithoutCancel(ctx)
	status := state.Status()

	route := ""
	if v, ok := state.Verdict(); ok {
		route = v.Route.String()
	}

	if m.metrics != nil {
		m.metrics.RecordRunCompleted(string(status), route, duration)
	}

	switch {
	case runErr == nil:
		m.publish(ctx, state.ID(), domain.EventTypeRunCompleted, map[string]interface{}{
			"route":      route,
			"durationMs": duration.Milliseconds(),
		})
	case status == domain.RunStatusCancelled:
		m.publish(ctx, state.ID(), domain.EventTypeRunCancelled, map[string]interface{}{
			"error": runErr.Error(),
		})
	default:
		m.publish(ctx, state.ID(), domain.EventTypeRunFailed, map[string]interface{}{
			"error": runErr.Error(),
			"kind":  domain.KindOf(runErr),
		})
	}

	if final := state.FinalResponse(); final != nil {
		m.publish(ctx, state.ID(), domain.EventTypeFinalResponse, map[string]interface{}{
			"route":            final.Route.String(),
			"escalationReason": final.EscalationReason,
			"confidence":       final.Confidence,
		})
	}

	if m.runs != nil {
		if err := m.runs.Save(ctx, state.Snapshot()); err != nil {
			m.logger.Error("failed to archive run",
				zap.String("run_id", state.ID()),
				zap.Error(err))
		}
	}

	for _, hook := range m.hooks {
		hook(ctx, state)
	}

	m.logger.Info("run finished",
		zap.String("run_id", state.ID()),
		zap.String("status", string(status)),
		zap.String("route", route),
		zap.Duration("duration", duration))
}

// GetRun returns the snapshot of an in-flight or archived run.
func (m *Manager) GetRun(ctx context.Context, runID string) (*domain.Snapshot, error) {
	if val, ok := m.executions.Load(runID); ok {
		return val.(*executionContext).state.Snapshot(), nil
	}
	if m.runs == nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	snap, err := m.runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return snap, nil
}

// ListRuns returns up to limit archived runs, newest first.
func (m *Manager) ListRuns(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	if m.runs == nil {
		return []*domain.Snapshot{}, nil
	}
	return m.runs.List(ctx, limit)
}

// CancelRun cancels an in-flight run. Already finished runs return
// ErrNotFound.
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		return fmt.Errorf("execution %s: %w", runID, domain.ErrNotFound)
	}

	execCtx := val.(*executionContext)
	execCtx.cancelFunc()

	m.logger.Info("run cancellation requested",
		zap.String("run_id", runID),
		zap.Duration("running_for", time.Since(execCtx.startedAt)))
	return nil
}

// ActiveRuns returns the number of in-flight runs.
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// Shutdown cancels every in-flight run and waits for them to unwind.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.executions.Range(func(key, value interface{}) bool {
		value.(*executionContext).cancelFunc()
		return true
	})

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for m.ActiveRuns() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout with %d runs in flight: %w", m.ActiveRuns(), ctx.Err())
		case <-ticker.C:
		}
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

func (m *Manager) setActive(n int64) {
	if m.metrics != nil {
		m.metrics.SetActiveRuns(int(n))
	}
}

func (m *Manager) publish(ctx context.Context, runID string, eventType domain.EventType, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	if err := m.eventBus.Publish(ctx, domain.Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      data,
	}); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("failed to publish event",
			zap.String("run_id", runID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
