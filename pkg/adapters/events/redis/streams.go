package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamKey is the stream every event is mirrored to.
const DefaultStreamKey = "triage:events"

// StreamsMirror copies published events into a capped Redis Stream so
// other processes can tail the trace.
type StreamsMirror struct {
	client    redis.UniversalClient
	logger    *zap.Logger
	streamKey string
	maxLen    int64
	subID     string
}

// NewStreamsMirror creates a mirror writing to streamKey, trimmed to
// roughly maxLen entries. A non-positive maxLen disables trimming.
func NewStreamsMirror(client redis.UniversalClient, streamKey string, maxLen int64, logger *zap.Logger) *StreamsMirror {
	if streamKey == "" {
		streamKey = DefaultStreamKey
	}
	return &StreamsMirror{
		client:    client,
		logger:    logger,
		streamKey: streamKey,
		maxLen:    maxLen,
	}
}

// Attach subscribes the mirror to bus until ctx is done.
func (m *StreamsMirror) Attach(ctx context.Context, bus ports.EventBus) error {
	id, err := bus.Subscribe(ctx, m.Handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe stream mirror: %w", err)
	}
	m.subID = id

	m.logger.Info("mirroring events to redis stream",
		zap.String("stream", m.streamKey),
		zap.Int64("max_len", m.maxLen),
		zap.String("subscriber", id))
	return nil
}

// Handle appends one event to the stream. It is an EventHandler.
func (m *StreamsMirror) Handle(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: m.streamKey,
		Values: map[string]interface{}{
			"type":   string(event.Type),
			"run_id": event.RunID,
			"data":   string(data),
		},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}

	if _, err := m.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	m.logger.Debug("event mirrored",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("stream", m.streamKey))

	return nil
}

// Recent returns up to limit mirrored events, oldest first.
func (m *StreamsMirror) Recent(ctx context.Context, limit int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	messages, err := m.client.XRevRangeN(ctx, m.streamKey, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]domain.Event, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		event, err := decodeMessage(messages[i])
		if err != nil {
			m.logger.Warn("skipping malformed stream entry",
				zap.String("stream", m.streamKey),
				zap.String("message_id", messages[i].ID),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Len returns the current stream length.
func (m *StreamsMirror) Len(ctx context.Context) (int64, error) {
	n, err := m.client.XLen(ctx, m.streamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get stream length: %w", err)
	}
	return n, nil
}

// SubscriberID returns the bus subscription id set by Attach.
func (m *StreamsMirror) SubscriberID() string {
	return m.subID
}

func decodeMessage(message redis.XMessage) (domain.Event, error) {
	var event domain.Event
	data, ok := message.Values["data"].(string)
	if !ok {
		return event, fmt.Errorf("invalid message format")
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}
