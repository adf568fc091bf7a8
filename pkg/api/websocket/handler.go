package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultHeartbeatInterval is how often the server sends heartbeat frames.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultBufferSize is the number of frames queued per connection.
	DefaultBufferSize = 256

	writeWait = 10 * time.Second

	messagePing      = "ping"
	messagePong      = "pong"
	messageHeartbeat = string(domain.EventTypeHeartbeat)
)

var errSlowConsumer = errors.New("websocket client is not keeping up")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is a server-originated message that is not a bus event.
type Frame struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// ClientMessage is what clients send. Plain "ping" text is accepted too.
type ClientMessage struct {
	Type string `json:"type"`
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus   ports.EventBus
	logger     *zap.Logger
	heartbeat  time.Duration
	bufferSize int
}

// Option configures a Handler.
type Option func(*Handler)

// WithHeartbeatInterval sets how often heartbeat frames are sent.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithBufferSize sets the per-connection frame queue length.
func WithBufferSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		eventBus:   eventBus,
		logger:     logger,
		heartbeat:  DefaultHeartbeatInterval,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// connection is one client. Only the write loop touches the socket for
// writing; everything else queues frames.
type connection struct {
	conn    *websocket.Conn
	events  chan []byte
	control chan []byte
	cancel  context.CancelFunc
	once    sync.Once
	logger  *zap.Logger
}

// HandleStream streams every published event to the client, in publish order.
func (h *Handler) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	client := &connection{
		conn:    conn,
		events:  make(chan []byte, h.bufferSize),
		control: make(chan []byte, 8),
		cancel:  cancel,
		logger:  h.logger,
	}

	subID, err := h.eventBus.Subscribe(ctx, client.enqueueEvent)
	if err != nil {
		h.logger.Error("failed to subscribe to events", zap.Error(err))
		_ = conn.Close()
		return
	}
	defer func() { _ = h.eventBus.Unsubscribe(subID) }()

	h.logger.Info("WebSocket connection established",
		zap.String("subscriber", subID),
		zap.String("client", c.ClientIP()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writeLoop(ctx, h.heartbeat)
	}()

	client.readLoop(ctx)
	cancel()
	<-done

	h.logger.Info("WebSocket disconnected", zap.String("subscriber", subID))
}

// enqueueEvent is the bus subscriber. A client whose queue is full is
// disconnected so it never sees a gap in the sequence.
func (cl *connection) enqueueEvent(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case cl.events <- data:
		return nil
	default:
		cl.once.Do(func() {
			cl.logger.Warn("event queue full, closing connection",
				zap.Uint64("seq", event.Seq),
				zap.String("event_type", string(event.Type)))
			cl.cancel()
		})
		return errSlowConsumer
	}
}

func (cl *connection) enqueueControl(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		cl.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}
	select {
	case cl.control <- data:
	default:
		cl.logger.Warn("control queue full, dropping frame", zap.String("type", frame.Type))
	}
}

// readLoop handles client messages until the connection fails or ctx ends.
func (cl *connection) readLoop(ctx context.Context) {
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		switch messageType(data) {
		case messagePing:
			cl.enqueueControl(Frame{Type: messagePong, Timestamp: time.Now(), Data: map[string]interface{}{}})
		case messageHeartbeat:
		default:
			cl.logger.Debug("ignoring client message", zap.Int("bytes", len(data)))
		}
	}
}

func messageType(data []byte) string {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err == nil && msg.Type != "" {
		return msg.Type
	}
	return strings.TrimSpace(string(data))
}

// writeLoop owns all writes to the socket.
func (cl *connection) writeLoop(ctx context.Context, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	defer func() { _ = cl.conn.Close() }()

	for {
		select {
		case <-ctx.Done():
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-cl.control:
			if !cl.write(data) {
				return
			}
		case data := <-cl.events:
			if !cl.write(data) {
				return
			}
		case <-ticker.C:
			data, err := json.Marshal(Frame{
				Type:      messageHeartbeat,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{},
			})
			if err != nil {
				continue
			}
			if !cl.write(data) {
				return
			}
		}
	}
}

func (cl *connection) write(data []byte) bool {
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		cl.logger.Warn("failed to write message", zap.Error(err))
		cl.cancel()
		return false
	}
	return true
}
