package stages

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/triage/internal/application/orchestrator"
	"github.com/aescanero/triage/pkg/adapters/memorystore"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T) *memorystore.Store {
	t.Helper()
	store, err := memorystore.New(filepath.Join(t.TempDir(), "memory.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func runPipeline(t *testing.T, deps Deps, input domain.Payload) *domain.State {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	g, err := Pipeline(deps)
	require.NoError(t, err)

	exec := orchestrator.NewExecutor(nil, nil, deps.Logger)
	state, err := exec.Run(context.Background(), g, domain.NewState("run-1", "sess-1", input))
	require.NoError(t, err)
	return state
}

func slotOutput(t *testing.T, state *domain.State, stage string) domain.Payload {
	t.Helper()
	r, ok := state.Slot(stage)
	require.True(t, ok, "stage %s has no slot", stage)
	require.Equal(t, domain.StageStatusSuccess, r.Status, "stage %s: %s", stage, r.Error)
	return r.Output
}

type fakeReasoner struct {
	mu   sync.Mutex
	text string
	err  error
	reqs []*domain.CompletionRequest
}

func (f *fakeReasoner) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Completion{Text: f.text, Model: "fake-model", InputTokens: 120, OutputTokens: 40}, nil
}

func (f *fakeReasoner) Model() string { return "fake-model" }

// brokenStore fails every call the way an unavailable database does.
type brokenStore struct{}

var errDisk = &domain.StorageError{Op: "read", Err: errors.New("disk I/O error")}

func (brokenStore) WriteWorking(context.Context, string, string, interface{}, time.Duration) error {
	return errDisk
}
func (brokenStore) ReadWorking(context.Context, string, string) (map[string]interface{}, error) {
	return nil, errDisk
}
func (brokenStore) ClearWorking(context.Context, string) error { return errDisk }
func (brokenStore) WriteEpisodic(context.Context, domain.EpisodicWrite) (int64, error) {
	return 0, errDisk
}
func (brokenStore) ReadEpisodic(context.Context, domain.EpisodicFilter) ([]domain.EpisodicRecord, error) {
	return nil, errDisk
}
func (brokenStore) WriteSemantic(context.Context, domain.SemanticWrite) error { return errDisk }
func (brokenStore) ReadSemantic(context.Context, domain.SemanticQuery) ([]domain.SemanticRecord, error) {
	return nil, errDisk
}
func (brokenStore) Delete(context.Context, domain.MemoryKind, int64) (bool, error) {
	return false, errDisk
}
