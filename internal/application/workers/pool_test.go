package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startPool(t *testing.T, size int) *Pool {
	t.Helper()
	p := NewPool(size, nil, zaptest.NewLogger(t), 0)
	require.NoError(t, p.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestPool_RunsJobsConcurrently(t *testing.T) {
	p := startPool(t, 2)

	// Both jobs block until the other has started; this only completes if
	// two workers run them at the same time.
	var started sync.WaitGroup
	started.Add(2)
	var done sync.WaitGroup
	done.Add(2)

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			defer done.Done()
			started.Done()
			started.Wait()
		}))
	}

	finished := make(chan struct{})
	go func() {
		done.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not run concurrently")
	}
}

func TestPool_SubmitBlocksWhenSaturated(t *testing.T) {
	p := startPool(t, 1)

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestPool_PanicKeepsWorkerAlive(t *testing.T) {
	p := startPool(t, 1)

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { panic("boom") }))

	var ran atomic.Bool
	doneCh := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		ran.Store(true)
		close(doneCh)
	}))
	<-doneCh
	assert.True(t, ran.Load())
}

func TestPool_SubmitBeforeStartAndAfterShutdown(t *testing.T) {
	p := NewPool(1, nil, zaptest.NewLogger(t), 0)
	assert.Error(t, p.Submit(context.Background(), func(ctx context.Context) {}))

	require.NoError(t, p.Start())
	require.NoError(t, p.Shutdown(context.Background()))

	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) {}), ErrPoolClosed)
}

func TestHealthMonitor_Status(t *testing.T) {
	p := startPool(t, 3)

	status := p.Health().GetStatus()
	assert.Equal(t, 3, status.TotalWorkers)
	assert.Equal(t, 3, status.IdleWorkers)
	assert.True(t, status.Healthy)

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { <-release }))
	require.Eventually(t, func() bool {
		return p.Health().GetStatus().BusyWorkers == 1
	}, time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, p.Shutdown(context.Background()))
	status = p.Health().GetStatus()
	assert.Equal(t, 3, status.StoppedWorkers)
	assert.False(t, p.Health().IsHealthy())
}

type poolMetrics struct {
	mu    sync.Mutex
	calls int
	idle  int
}

func (m *poolMetrics) RecordWorkerPoolStatus(idle, busy, stopped int) {
	m.mu.Lock()
	m.calls++
	m.idle = idle
	m.mu.Unlock()
}

func (m *poolMetrics) RecordRunSubmitted() {}
func (m *poolMetrics) RecordRunCompleted(string, string, time.Duration) {}
func (m *poolMetrics) RecordStageExecuted(string, string, time.Duration) {}
func (m *poolMetrics) RecordViolation(string) {}
func (m *poolMetrics) RecordEventPublished(string) {}
func (m *poolMetrics) SetActiveRuns(int) {}
func (m *poolMetrics) ObserveLLMLatency(string, time.Duration) {}
func (m *poolMetrics) IncLLMTokens(string, string, int) {}

func TestHealthMonitor_RecordsMetrics(t *testing.T) {
	m := &poolMetrics{}
	p := NewPool(2, m, zaptest.NewLogger(t), 10*time.Millisecond)
	require.NoError(t, p.Start())
	defer p.Shutdown(context.Background())

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.calls > 0 && m.idle == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHealthMonitor_ReportsSaturation(t *testing.T) {
	p := startPool(t, 1)

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { <-release }))

	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(context.Background(), func(ctx context.Context) {})
	}()

	require.Eventually(t, func() bool {
		s := p.Health().GetStatus()
		return s.Saturated && s.WaitingJobs == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-submitted)
	require.Eventually(t, func() bool {
		return !p.Health().GetStatus().Saturated
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Waiting())
}
