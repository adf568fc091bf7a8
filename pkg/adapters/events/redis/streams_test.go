package redis

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/triage/pkg/adapters/events/memory"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupMirror(t *testing.T, maxLen int64) (*StreamsMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStreamsMirror(client, "", maxLen, zaptest.NewLogger(t)), mr
}

func TestStreamsMirror_MirrorsBusEvents(t *testing.T) {
	ctx := context.Background()
	mirror, _ := setupMirror(t, 0)
	bus := memory.NewRingEventBus(10, zaptest.NewLogger(t))

	require.NoError(t, mirror.Attach(ctx, bus))
	assert.NotEmpty(t, mirror.SubscriberID())

	require.NoError(t, bus.Publish(ctx, domain.Event{Type: domain.EventTypeRunStarted, RunID: "run-1"}))
	require.NoError(t, bus.Publish(ctx, domain.Event{
		Type:  domain.EventTypeStageCompleted,
		RunID: "run-1",
		Data:  map[string]interface{}{"stage": "ingestion"},
	}))

	require.Eventually(t, func() bool {
		n, err := mirror.Len(ctx)
		return err == nil && n == 2
	}, time.Second, 5*time.Millisecond)

	events, err := mirror.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeRunStarted, events[0].Type)
	assert.Equal(t, domain.EventTypeStageCompleted, events[1].Type)
	assert.Equal(t, "ingestion", events[1].Data["stage"])
	assert.Equal(t, uint64(2), events[1].Seq)
}

func TestStreamsMirror_RecentLimit(t *testing.T) {
	ctx := context.Background()
	mirror, _ := setupMirror(t, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, mirror.Handle(ctx, domain.Event{Type: domain.EventTypeHeartbeat, Seq: uint64(i + 1)}))
	}

	events, err := mirror.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(4), events[0].Seq)
	assert.Equal(t, uint64(5), events[1].Seq)
}

func TestStreamsMirror_SkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	mirror, mr := setupMirror(t, 0)

	require.NoError(t, mirror.Handle(ctx, domain.Event{Type: domain.EventTypeRunStarted}))
	_, err := mr.XAdd(DefaultStreamKey, "*", []string{"other", "value"})
	require.NoError(t, err)

	events, err := mirror.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStreamsMirror_RedisDown(t *testing.T) {
	mirror, mr := setupMirror(t, 100)
	mr.Close()

	err := mirror.Handle(context.Background(), domain.Event{Type: domain.EventTypeRunStarted})
	assert.Error(t, err)
}
