package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/realtime"
	"github.com/forgehq/forge/internal/repository"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checking is left to a fronting proxy/load balancer in this
	// runtime, the same boundary the gateway's other endpoints assume.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is the inbound WebSocket envelope: subscribe/unsubscribe
// per §6.
type clientMessage struct {
	Type           string          `json:"type"`
	Query          string          `json:"query"`
	Table          string          `json:"table"`
	Args           json.RawMessage `json:"args"`
	RowIDs         []string        `json:"row_ids"`
	Predicate      string          `json:"predicate"`
	SubscriptionID string          `json:"subscription_id"`
}

// WSHandler upgrades to a WebSocket and runs the session's lifetime:
// persist the session row, register with the hub, read subscribe/
// unsubscribe frames until the socket closes, then garbage-collect.
func WSHandler(hub *realtime.Hub, sessions repository.SessionRepository, nodeID string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("gateway: websocket upgrade failed", "error", err)
			return
		}

		auth := authFromGin(c)
		sessionID := uuid.NewString()
		userID := ""
		if auth.Claims != nil {
			userID = auth.Claims.Subject
		}

		session := &domain.Session{ID: sessionID, NodeID: nodeID, UserID: userID, Status: domain.SessionActive}
		if err := sessions.Create(c.Request.Context(), session); err != nil {
			logger.Warn("gateway: create session", "error", err)
			_ = conn.Close()
			return
		}

		cc := hub.Register(sessionID, conn)
		defer hub.Disconnect(c.Request.Context(), sessionID)

		readLoop(c, cc, hub, sessions, sessionID, logger)
	}
}

func readLoop(c *gin.Context, cc *realtime.ClientConn, hub *realtime.Hub, sessions repository.SessionRepository, sessionID string, logger *slog.Logger) {
	ctx := c.Request.Context()
	for {
		_, data, err := cc.ReadMessage()
		if err != nil {
			return
		}
		_ = sessions.Touch(ctx, sessionID)

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "subscribe":
			sub := &domain.Subscription{
				QueryFingerprint: msg.Query,
				Table:            msg.Table,
				Predicate:        msg.Predicate,
			}
			if len(msg.RowIDs) > 0 {
				sub.ReadSetKind = domain.ReadSetRowIDs
				sub.RowIDs = msg.RowIDs
			} else {
				sub.ReadSetKind = domain.ReadSetPredicate
			}
			if err := hub.Subscribe(ctx, sessionID, sub); err != nil {
				logger.Warn("gateway: subscribe failed", "error", err)
			}
		case "unsubscribe":
			if err := hub.Unsubscribe(ctx, msg.SubscriptionID); err != nil {
				logger.Warn("gateway: unsubscribe failed", "error", err)
			}
		}
	}
}
