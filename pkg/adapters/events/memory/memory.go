package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCapacity is the number of events retained when no capacity is given.
const DefaultCapacity = 1000

// DefaultSubscriberBuffer is the number of undelivered events a subscriber
// may hold before further events for it are dropped.
const DefaultSubscriberBuffer = 4096

// RingEventBus implements EventBus with a bounded in-process log.
//
// The log is a fixed-size ring: once full, each publish overwrites the
// oldest event. Every subscriber owns a mailbox drained by its own
// goroutine, so a slow subscriber never holds up publishers or other
// subscribers. Each subscriber sees events in seq order.
type RingEventBus struct {
	logger    *zap.Logger
	metrics   ports.MetricsCollector
	subBuffer int

	mu          sync.RWMutex
	buf         []domain.Event
	head        int
	size        int
	seq         uint64
	subscribers map[string]*subscriber
	order       []string
	nextID      uint64
	closed      bool
}

// Option configures a RingEventBus.
type Option func(*RingEventBus)

// WithMetrics records every published event type.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(b *RingEventBus) {
		b.metrics = m
	}
}

// WithSubscriberBuffer bounds each subscriber's mailbox.
func WithSubscriberBuffer(n int) Option {
	return func(b *RingEventBus) {
		if n > 0 {
			b.subBuffer = n
		}
	}
}

// NewRingEventBus creates a bus retaining at most capacity events.
func NewRingEventBus(capacity int, logger *zap.Logger, opts ...Option) *RingEventBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RingEventBus{
		logger:      logger,
		subBuffer:   DefaultSubscriberBuffer,
		buf:         make([]domain.Event, capacity),
		subscribers: make(map[string]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscriber is one handler and its pending deliveries.
type subscriber struct {
	id      string
	handler ports.EventHandler

	mu      sync.Mutex
	pending []delivery
	wake    chan struct{}
	stop    chan struct{}
	once    sync.Once
}

func (s *subscriber) enqueue(d delivery, limit int) bool {
	s.mu.Lock()
	if len(s.pending) >= limit {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, d)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *subscriber) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Publish appends the event to the log and queues it for every current
// subscriber. It does not wait for delivery.
func (b *RingEventBus) Publish(ctx context.Context, event domain.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Deliveries outlive the publisher's deadline; values are kept.
	dctx := context.WithoutCancel(ctx)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus is closed")
	}

	b.seq++
	event.Seq = b.seq
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}

	capacity := len(b.buf)
	b.buf[(b.head+b.size)%capacity] = event
	if b.size < capacity {
		b.size++
	} else {
		b.head = (b.head + 1) % capacity
	}

	// Queueing under mu keeps every mailbox in seq order.
	var dropped []string
	for _, id := range b.order {
		if !b.subscribers[id].enqueue(delivery{ctx: dctx, event: event}, b.subBuffer) {
			dropped = append(dropped, id)
		}
	}
	subscribers := len(b.order)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordEventPublished(string(event.Type))
	}

	for _, id := range dropped {
		b.logger.Warn("subscriber mailbox full, dropping event",
			zap.String("subscriber", id),
			zap.Uint64("seq", event.Seq),
			zap.String("event_type", string(event.Type)))
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Uint64("seq", event.Seq),
		zap.Int("subscribers", subscribers))

	return nil
}

// run drains one subscriber's mailbox until it is stopped.
func (b *RingEventBus) run(s *subscriber) {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, d := range batch {
				if s.stopped() {
					return
				}
				b.deliver(d.ctx, s.id, s.handler, d.event)
			}
		}
	}
}

// deliver calls one subscriber, isolating its errors and panics.
func (b *RingEventBus) deliver(ctx context.Context, id string, handler ports.EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("subscriber", id),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()

	if err := handler(ctx, event); err != nil {
		b.logger.Error("event subscriber failed",
			zap.String("subscriber", id),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// Subscribe registers a handler. The subscription is removed when ctx is
// done or Unsubscribe is called with the returned id.
func (b *RingEventBus) Subscribe(ctx context.Context, handler ports.EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler is nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("event bus is closed")
	}
	b.nextID++
	id := "sub-" + strconv.FormatUint(b.nextID, 10)
	sub := &subscriber{
		id:      id,
		handler: handler,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.subscribers[id] = sub
	b.order = append(b.order, id)
	total := len(b.order)
	b.mu.Unlock()

	go b.run(sub)

	b.logger.Info("subscriber added",
		zap.String("subscriber", id),
		zap.Int("total_subscribers", total))

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = b.Unsubscribe(id)
		}()
	}

	return id, nil
}

// Unsubscribe removes a subscriber. Events still in its mailbox are
// discarded; a delivery already in progress finishes.
func (b *RingEventBus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return fmt.Errorf("subscriber %s: %w", id, domain.ErrNotFound)
	}
	sub.close()
	delete(b.subscribers, id)
	for i, existing := range b.order {
		if existing == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}

	b.logger.Info("subscriber removed",
		zap.String("subscriber", id),
		zap.Int("total_subscribers", len(b.order)))
	return nil
}

// History returns up to limit of the most recent events, oldest first.
// A non-positive limit returns the whole log.
func (b *RingEventBus) History(limit int) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.size {
		limit = b.size
	}
	out := make([]domain.Event, limit)
	capacity := len(b.buf)
	start := b.head + b.size - limit
	for i := 0; i < limit; i++ {
		out[i] = b.buf[(start+i)%capacity]
	}
	return out
}

// ClearHistory drops every retained event. Sequence numbers keep increasing.
func (b *RingEventBus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.buf {
		b.buf[i] = domain.Event{}
	}
	b.head = 0
	b.size = 0
	b.logger.Info("event history cleared")
}

// SubscriberCount returns the number of registered subscribers.
func (b *RingEventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Close drops all subscribers and rejects further publishes.
func (b *RingEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, sub := range b.subscribers {
		sub.close()
	}
	b.subscribers = make(map[string]*subscriber)
	b.order = nil
	return nil
}
