package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/amityvox/notifyd/internal/models"
)

// conn wraps one accepted WebSocket connection: a bounded outbound buffer so
// a slow client cannot block the broadcast to others (§5), and the
// conversation subscriptions a chat connection has joined.
type conn struct {
	id       string
	tenantID string
	userID   string
	wsConn   *websocket.Conn

	send         chan []byte
	writeTimeout time.Duration

	mu            sync.Mutex
	conversations map[models.ID]bool

	logger *slog.Logger
}

func newConn(tenantID, userID string, wsConn *websocket.Conn, bufferSize int, writeTimeout time.Duration, logger *slog.Logger) *conn {
	return &conn{
		id:            uuid.NewString(),
		tenantID:      tenantID,
		userID:        userID,
		wsConn:        wsConn,
		send:          make(chan []byte, bufferSize),
		writeTimeout:  writeTimeout,
		conversations: make(map[models.ID]bool),
		logger:        logger,
	}
}

func (c *conn) joined(conversationID models.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversations[conversationID]
}

func (c *conn) join(conversationID models.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[conversationID] = true
}

// enqueue pushes a frame onto the connection's outbound buffer. A full
// buffer means the client isn't draining fast enough; rather than block the
// broadcaster, the connection is torn down with a back-pressure close code.
func (c *conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the outbound buffer to the wire. Exits when send is
// closed or the connection's context is cancelled.
func (c *conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.wsConn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// readPump reads client frames and dispatches them to handle. Any client
// frame extends the idle deadline, satisfying §4.7's heartbeat contract
// without requiring the frame to literally be named "ping".
func (c *conn) readPump(ctx context.Context, idleTimeout time.Duration, handle func(Frame)) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, idleTimeout)
		_, data, err := c.wsConn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("ws: dropping malformed client frame", slog.String("conn", c.id), slog.String("error", err.Error()))
			continue
		}
		handle(f)
	}
}

func (c *conn) closeWithReason(code websocket.StatusCode, reason string) {
	_ = c.wsConn.Close(code, reason)
}
