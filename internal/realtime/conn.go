package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const sendBufferSize = 64

// MessageType distinguishes the three frames a session can receive.
type MessageType string

const (
	MessageDelta  MessageType = "delta"
	MessageError  MessageType = "error"
	MessageResync MessageType = "resync"
)

// Message is the wire envelope pushed down a WebSocket channel.
type Message struct {
	Type           MessageType `json:"type"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	Change         *Change     `json:"change,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// ClientConn wraps one session's WebSocket connection with a bounded
// outbound buffer. Backpressure policy (§5): when the buffer is full the
// oldest pending message is dropped and a resync notice is queued in its
// place, telling the session to resync, rather than blocking the
// broadcaster or growing the buffer unbounded.
type ClientConn struct {
	SessionID string

	conn    *websocket.Conn
	send    chan Message
	limiter *rate.Limiter
	logger  *slog.Logger
	closed  chan struct{}
}

func newClientConn(sessionID string, conn *websocket.Conn, logger *slog.Logger) *ClientConn {
	return &ClientConn{
		SessionID: sessionID,
		conn:      conn,
		send:      make(chan Message, sendBufferSize),
		limiter:   rate.NewLimiter(rate.Limit(50), 100),
		logger:    logger,
		closed:    make(chan struct{}),
	}
}

// enqueue is non-blocking: on overflow it drops the oldest buffered
// message, logs a WARN, and replaces it with a resync notice so the
// client knows its view may be stale.
func (c *ClientConn) enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
	}

	select {
	case dropped := <-c.send:
		c.logger.Warn("realtime: broadcast buffer full, dropping oldest", "session_id", c.SessionID, "dropped_subscription_id", dropped.SubscriptionID)
	default:
	}
	select {
	case c.send <- Message{Type: MessageResync, Message: "send buffer overflowed; resync subscriptions"}:
	default:
	}
	return false
}

// writePump drains the outbound buffer to the socket until the
// connection is closed or a write fails. Call as its own goroutine.
func (c *ClientConn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if d := c.limiter.Reserve().Delay(); d > 0 {
				select {
				case <-c.closed:
					return
				case <-time.After(d):
				}
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Info("realtime: write failed, closing", "session_id", c.SessionID, "error", err)
				return
			}
		}
	}
}

// ReadMessage reads one inbound frame. Callers (the gateway's WebSocket
// handler) run this in their own goroutine, separate from writePump.
func (c *ClientConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *ClientConn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	_ = c.conn.Close()
}
