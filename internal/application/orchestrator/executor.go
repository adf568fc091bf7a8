package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/triage/internal/application/workers"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("triage.orchestrator")

// DefaultStageTimeout applies to stages that declare no timeout.
const DefaultStageTimeout = 60 * time.Second

// DependencyPolicy decides what happens to a stage whose predecessor did
// not succeed.
type DependencyPolicy string

const (
	// DependencyPermissive runs the stage in degraded mode with whatever
	// predecessor outputs exist.
	DependencyPermissive DependencyPolicy = "permissive"
	// DependencyStrict skips the stage with status skipped.
	DependencyStrict DependencyPolicy = "strict"
)

// ParseDependencyPolicy validates a policy name.
func ParseDependencyPolicy(s string) (DependencyPolicy, error) {
	switch DependencyPolicy(s) {
	case DependencyPermissive, DependencyStrict:
		return DependencyPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown dependency policy: %q", s)
	}
}

// Dispatcher runs jobs on a bounded set of goroutines.
type Dispatcher interface {
	Submit(ctx context.Context, fn workers.Job) error
}

// Executor runs a Graph over a State in waves.
//
// Every stage whose predecessors have all completed is dispatched in the
// same wave; the executor waits for the whole wave before computing the
// next one. Executor is safe for concurrent use by multiple runs.
type Executor struct {
	dispatcher   Dispatcher
	bus          ports.EventPublisher
	metrics      ports.MetricsCollector
	logger       *zap.Logger
	stageTimeout time.Duration
	policy       DependencyPolicy
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStageTimeout sets the default per-stage timeout.
func WithStageTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

// WithDependencyPolicy sets how failed predecessors are handled.
func WithDependencyPolicy(p DependencyPolicy) ExecutorOption {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithExecutorMetrics records stage and verdict metrics.
func WithExecutorMetrics(m ports.MetricsCollector) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor. A nil dispatcher starts one goroutine
// per ready stage; a nil bus drops events.
func NewExecutor(dispatcher Dispatcher, bus ports.EventPublisher, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if dispatcher == nil {
		dispatcher = goDispatcher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		dispatcher:   dispatcher,
		bus:          bus,
		logger:       logger,
		stageTimeout: DefaultStageTimeout,
		policy:       DependencyPermissive,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type goDispatcher struct{}

func (goDispatcher) Submit(ctx context.Context, fn workers.Job) error {
	go fn(ctx)
	return nil
}

// Run executes g over state until the decision stage's route reaches END.
//
// The returned State is always non-nil when state is. A non-nil error means
// the run was aborted: an invalid graph, a reused State, an executor fault,
// or ctx being done. Stage failures are not errors; they are recorded in
// the State and the run continues.
func (e *Executor) Run(ctx context.Context, g *Graph, state *domain.State) (*domain.State, error) {
	if state == nil {
		return nil, fmt.Errorf("state is nil")
	}
	if err := NewValidator().Validate(g); err != nil {
		state.AppendError(err)
		return state, err
	}
	if err := state.Begin(); err != nil {
		return state, fmt.Errorf("failed to start run %s: %w", state.ID(), err)
	}

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("run.id", state.ID()),
			attribute.String("run.session_id", state.SessionID()),
			attribute.Int("graph.stage_count", len(g.order)),
			attribute.String("graph.dependency_policy", string(e.policy)),
		),
	)
	defer span.End()

	start := time.Now()
	completed := make(map[string]bool, len(g.order))
	waves := 0

	for {
		if err := runAborted(ctx); err != nil {
			return e.abort(span, state, err)
		}

		ready := e.findReadyStages(g, completed)
		if len(ready) == 0 {
			break
		}
		waves++

		if err := e.executeWave(ctx, g, ready, state); err != nil {
			return e.abort(span, state, err)
		}
		for _, s := range ready {
			completed[s.Name] = true
		}

		if err := runAborted(ctx); err != nil {
			return e.abort(span, state, err)
		}
	}

	if !completed[g.decision] {
		err := &domain.ConfigurationError{Reason: "decision stage " + g.decision + " was never reached"}
		return e.abort(span, state, err)
	}

	verdict := e.resolveVerdict(g, state)
	if err := state.SetVerdict(verdict); err != nil {
		return e.abort(span, state, fmt.Errorf("executor fault: %w", err))
	}
	target, ok := g.RouteTarget(verdict.Route)
	if !ok || target != END {
		err := &domain.ConfigurationError{Reason: "route " + verdict.Route.String() + " has no terminal marker"}
		return e.abort(span, state, err)
	}

	if e.metrics != nil {
		for _, v := range verdict.Violations {
			e.metrics.RecordViolation(v.Category)
		}
	}
	e.publish(ctx, state.ID(), domain.EventTypeVerdict, map[string]interface{}{
		"route":          verdict.Route.String(),
		"violations":     verdict.Violations,
		"confidenceUsed": verdict.ConfidenceUsed,
		"reason":         verdict.Reason,
	})

	state.Finish(domain.RunStatusCompleted)

	span.SetAttributes(
		attribute.String("run.route", verdict.Route.String()),
		attribute.Int("run.waves", waves),
		attribute.Int("run.violations", len(verdict.Violations)),
	)
	span.SetStatus(codes.Ok, "")

	e.logger.Info("pipeline completed",
		zap.String("run_id", state.ID()),
		zap.String("route", verdict.Route.String()),
		zap.Int("waves", waves),
		zap.Int("stages", len(state.ExecutionLog())),
		zap.Duration("duration", time.Since(start)))

	return state, nil
}

// runAborted converts a done run context into the run-level error.
func runAborted(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.TimeoutError{Err: err}
	default:
		return fmt.Errorf("run cancelled: %w", err)
	}
}

func (e *Executor) abort(span trace.Span, state *domain.State, err error) (*domain.State, error) {
	state.AppendError(err)

	status := domain.RunStatusFailed
	if errors.Is(err, context.Canceled) {
		status = domain.RunStatusCancelled
	}
	state.Finish(status)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	e.logger.Warn("pipeline aborted",
		zap.String("run_id", state.ID()),
		zap.String("status", string(status)),
		zap.Int("completed_stages", len(state.ExecutionLog())),
		zap.Error(err))

	return state, err
}

// findReadyStages returns stages not yet run whose predecessors have all
// completed, in declaration order.
func (e *Executor) findReadyStages(g *Graph, completed map[string]bool) []*Stage {
	var ready []*Stage
	for _, name := range g.order {
		if completed[name] {
			continue
		}
		s := g.stages[name]
		allDone := true
		for _, pred := range s.Predecessors {
			if !completed[pred] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, s)
		}
	}
	return ready
}

// executeWave dispatches every ready stage and blocks until all of them
// have recorded a result.
func (e *Executor) executeWave(ctx context.Context, g *Graph, ready []*Stage, state *domain.State) error {
	var (
		wg       sync.WaitGroup
		faultMu  sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		faultMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		faultMu.Unlock()
	}

	for _, s := range ready {
		blocked := e.unsuccessfulPredecessors(s, state)

		if len(blocked) > 0 && e.policy == DependencyStrict {
			if err := e.skipStage(ctx, s, blocked, state); err != nil {
				fail(err)
			}
			continue
		}

		stage := s
		degraded := len(blocked) > 0
		wg.Add(1)
		err := e.dispatcher.Submit(ctx, func(jobCtx context.Context) {
			defer wg.Done()
			if err := e.executeStage(jobCtx, stage, state, degraded); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			if ctx.Err() != nil {
				// The run deadline fired while waiting for a worker; the
				// caller turns this into the run-level error.
				break
			}
			fail(fmt.Errorf("failed to dispatch stage %s: %w", stage.Name, err))
		}
	}

	wg.Wait()
	return firstErr
}

func (e *Executor) unsuccessfulPredecessors(s *Stage, state *domain.State) []string {
	var blocked []string
	for _, pred := range s.Predecessors {
		if r, ok := state.Slot(pred); !ok || !r.Succeeded() {
			blocked = append(blocked, pred)
		}
	}
	return blocked
}

func (e *Executor) skipStage(ctx context.Context, s *Stage, blocked []string, state *domain.State) error {
	now := time.Now()
	result := domain.StageResult{
		StageName:   s.Name,
		Status:      domain.StageStatusSkipped,
		Output:      domain.Payload{},
		SideEffects: []domain.SideEffect{},
		Error:       fmt.Sprintf("predecessors did not succeed: %v", blocked),
		StartedAt:   now,
		CompletedAt: now,
	}
	if err := state.Record(result, nil); err != nil {
		return fmt.Errorf("executor fault recording stage %s: %w", s.Name, err)
	}

	if e.metrics != nil {
		e.metrics.RecordStageExecuted(s.Name, string(domain.StageStatusSkipped), 0)
	}
	e.publish(ctx, state.ID(), domain.EventTypeStageSkipped, map[string]interface{}{
		"stage":   s.Name,
		"blocked": blocked,
	})

	e.logger.Info("stage skipped",
		zap.String("run_id", state.ID()),
		zap.String("stage", s.Name),
		zap.Strings("blocked_by", blocked))
	return nil
}

type stageOutcome struct {
	output  domain.Payload
	effects []domain.SideEffect
	err     error
}

// executeStage runs one stage under its timeout and records the result.
// The returned error is an executor fault, never the stage's own failure.
func (e *Executor) executeStage(ctx context.Context, s *Stage, state *domain.State, degraded bool) error {
	ctx, span := tracer.Start(ctx, s.Name,
		trace.WithAttributes(
			attribute.String("stage.name", s.Name),
			attribute.StringSlice("stage.predecessors", s.Predecessors),
			attribute.Bool("stage.degraded", degraded),
		),
	)
	defer span.End()

	e.publish(ctx, state.ID(), domain.EventTypeStageStarted, map[string]interface{}{
		"stage":    s.Name,
		"degraded": degraded,
	})

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = e.stageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startedAt := time.Now()
	done := make(chan stageOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, effects, err := s.Run(stageCtx, state)
		done <- stageOutcome{output: out, effects: effects, err: err}
	}()

	var oc stageOutcome
	select {
	case oc = <-done:
	case <-stageCtx.Done():
		// The stage ignored cancellation; its goroutine is abandoned and its
		// late result dropped.
		oc.err = stageCtx.Err()
	}
	completedAt := time.Now()
	duration := completedAt.Sub(startedAt)

	var cause error
	switch {
	case oc.err == nil:
	case errors.Is(oc.err, context.Canceled) && !errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		cause = &domain.StageError{Stage: s.Name, Err: fmt.Errorf("cancelled: %w", oc.err)}
	case errors.Is(oc.err, context.DeadlineExceeded) || errors.Is(oc.err, context.Canceled):
		cause = &domain.TimeoutError{Stage: s.Name, Err: oc.err}
	default:
		cause = &domain.StageError{Stage: s.Name, Err: oc.err}
	}

	result := domain.StageResult{
		StageName:   s.Name,
		Status:      domain.StageStatusSuccess,
		Output:      oc.output,
		SideEffects: oc.effects,
		DurationMs:  duration.Milliseconds(),
		Degraded:    degraded,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if result.Output == nil {
		result.Output = domain.Payload{}
	}
	if result.SideEffects == nil {
		result.SideEffects = []domain.SideEffect{}
	}
	if cause != nil {
		result.Status = domain.StageStatusError
		result.Error = cause.Error()
	}

	if err := state.Record(result, cause); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "state fault")
		return fmt.Errorf("executor fault recording stage %s: %w", s.Name, err)
	}

	if e.metrics != nil {
		e.metrics.RecordStageExecuted(s.Name, string(result.Status), duration)
	}
	data := map[string]interface{}{
		"stage":      s.Name,
		"status":     string(result.Status),
		"durationMs": result.DurationMs,
		"degraded":   degraded,
		"output":     result.Output.Clone(),
	}
	if cause != nil {
		data["error"] = result.Error
	}
	e.publish(ctx, state.ID(), domain.EventTypeStageCompleted, data)

	if cause != nil {
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
		e.logger.Warn("stage failed",
			zap.String("run_id", state.ID()),
			zap.String("stage", s.Name),
			zap.Duration("duration", duration),
			zap.Error(cause))
	} else {
		span.SetStatus(codes.Ok, "")
		e.logger.Debug("stage completed",
			zap.String("run_id", state.ID()),
			zap.String("stage", s.Name),
			zap.Bool("degraded", degraded),
			zap.Duration("duration", duration))
	}
	return nil
}

// resolveVerdict reads the decision stage's verdict. A decision stage that
// did not succeed, or produced no valid route, escalates.
func (e *Executor) resolveVerdict(g *Graph, state *domain.State) domain.Verdict {
	result, _ := state.Slot(g.decision)

	var reason string
	if result.Succeeded() {
		v, err := g.verdictOf(result)
		switch {
		case err != nil:
			reason = fmt.Sprintf("decision stage %s produced no verdict: %v", g.decision, err)
		case !v.Route.Valid():
			reason = fmt.Sprintf("decision stage %s produced invalid route %d", g.decision, v.Route)
		default:
			return v
		}
	} else {
		reason = fmt.Sprintf("decision stage %s %s: %s", g.decision, result.Status, result.Error)
	}

	e.logger.Warn("escalating by default",
		zap.String("run_id", state.ID()),
		zap.String("reason", reason))

	return domain.Verdict{
		Route: domain.RouteEscalate,
		Violations: []domain.Violation{{
			Category: "pipeline_error",
			Severity: domain.SeverityHigh,
			Message:  reason,
		}},
		Reason: reason,
	}
}

func (e *Executor) publish(ctx context.Context, runID string, eventType domain.EventType, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	// Events are published even once the run context is done so the trace
	// records how the run ended.
	if err := e.bus.Publish(context.WithoutCancel(ctx), domain.Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      data,
	}); err != nil {
		e.logger.Error("failed to publish event",
			zap.String("run_id", runID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
