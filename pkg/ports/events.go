package ports

import (
	"context"

	"github.com/aescanero/triage/pkg/domain"
)

// EventHandler receives published events. A returned error is logged by
// the bus and never reaches the publisher.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventPublisher appends events to the trace.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventBus is the process-wide observability trace.
type EventBus interface {
	EventPublisher

	// Subscribe registers handler until Unsubscribe is called or ctx is done.
	Subscribe(ctx context.Context, handler EventHandler) (string, error)
	Unsubscribe(id string) error

	// History returns up to limit of the most recent events, oldest first.
	History(limit int) []domain.Event
	// ClearHistory drops the retained log; sequence numbers keep increasing.
	ClearHistory()

	Close() error
}
