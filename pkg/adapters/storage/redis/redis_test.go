package redis

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupStore(t *testing.T, ttl time.Duration) (*RunStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRunStore(client, ttl, zaptest.NewLogger(t)), mr
}

func completedRun(id string, started time.Time) *domain.Snapshot {
	return &domain.Snapshot{
		ID:        id,
		SessionID: "sess-1",
		Status:    domain.RunStatusCompleted,
		Input:     domain.Payload{"message": "hello"},
		Verdict:   &domain.Verdict{Route: domain.RouteAuto, ConfidenceUsed: 0.9},
		StartedAt: &started,
	}
}

func TestRunStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store, mr := setupStore(t, time.Hour)

	require.NoError(t, store.Save(ctx, completedRun("run-1", time.Now())))
	assert.True(t, mr.Exists("triage:run:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("triage:run:run-1"))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "hello", got.Input.String("message"))
	require.NotNil(t, got.Verdict)
	assert.Equal(t, domain.RouteAuto, got.Verdict.Route)
}

func TestRunStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := setupStore(t, time.Minute)

	require.NoError(t, store.Save(ctx, completedRun("run-1", time.Now())))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "run-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t, 0)
	base := time.Now()

	require.NoError(t, store.Save(ctx, completedRun("a", base.Add(-2*time.Minute))))
	require.NoError(t, store.Save(ctx, completedRun("b", base)))
	require.NoError(t, store.Save(ctx, completedRun("c", base.Add(-time.Minute))))

	runs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, "c", runs[1].ID)

	require.NoError(t, store.Delete(ctx, "b"))
	runs, err = store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunStore_RedisDownIsStorageError(t *testing.T) {
	store, mr := setupStore(t, 0)
	mr.Close()

	_, err := store.Get(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, domain.IsStorageError(err))
}

func TestRunStore_RetentionCountsFromCompletion(t *testing.T) {
	ctx := context.Background()
	store, mr := setupStore(t, time.Hour)

	require.NoError(t, store.Save(ctx, completedRun("stale", time.Now().Add(-72*time.Hour))))
	_, err := store.Get(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Save(ctx, completedRun("recent", time.Now().Add(-30*time.Minute))))
	_, err = store.Get(ctx, "recent")
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)
	_, err = store.Get(ctx, "recent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
