package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
)

// Hub is the node-local half of the change-broadcast fan-out: it tracks
// only the WebSocket connections owned by this process, and queries
// SessionRepository for the current subscription read-sets on every
// change rather than caching them in memory, so there is exactly one
// place (postgres) that knows what a session is subscribed to.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*ClientConn // sessionID -> conn
	repo   repository.SessionRepository
	logger *slog.Logger
}

func NewHub(repo repository.SessionRepository, logger *slog.Logger) *Hub {
	return &Hub{conns: make(map[string]*ClientConn), repo: repo, logger: logger}
}

// Register adopts an upgraded WebSocket connection under sessionID,
// starts its write pump, and returns the handle callers read from.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) *ClientConn {
	cc := newClientConn(sessionID, conn, h.logger)
	h.mu.Lock()
	h.conns[sessionID] = cc
	h.mu.Unlock()

	go cc.writePump()
	return cc
}

// Disconnect removes a session's connection and deletes its persisted
// session/subscription rows, so dead sessions are garbage-collected
// rather than accumulating (§6).
func (h *Hub) Disconnect(ctx context.Context, sessionID string) {
	h.mu.Lock()
	cc, ok := h.conns[sessionID]
	delete(h.conns, sessionID)
	h.mu.Unlock()

	if ok {
		cc.close()
	}
	if err := h.repo.Delete(ctx, sessionID); err != nil {
		h.logger.Warn("realtime: delete session on disconnect", "session_id", sessionID, "error", err)
	}
}

// Subscribe registers args's read-set and bumps the active-subscription
// gauge.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, sub *domain.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.SessionID = sessionID
	if err := h.repo.AddSubscription(ctx, sub); err != nil {
		return err
	}
	metrics.RealtimeSubscriptionsActive.Inc()
	return nil
}

func (h *Hub) Unsubscribe(ctx context.Context, subscriptionID string) error {
	if err := h.repo.RemoveSubscription(ctx, subscriptionID); err != nil {
		return err
	}
	metrics.RealtimeSubscriptionsActive.Dec()
	return nil
}

// BroadcastChange implements Dispatcher: it looks up every subscription
// registered against change.Table and forwards a delta to each one whose
// session has a connection on this node. Row-id read-sets are matched
// exactly; predicate read-sets cannot be evaluated in process (no SQL
// engine here), so every change on the table is forwarded and the client
// is left to reconcile against its own predicate, same as a lost-notify
// resync would require anyway.
func (h *Hub) BroadcastChange(ctx context.Context, change Change) {
	subs, err := h.repo.SubscriptionsForTable(ctx, change.Table)
	if err != nil {
		h.logger.Warn("realtime: load subscriptions for table", "table", change.Table, "error", err)
		return
	}

	for _, sub := range subs {
		if sub.ReadSetKind == domain.ReadSetRowIDs && !containsRowID(sub.RowIDs, change.RowID) {
			continue
		}

		h.mu.RLock()
		cc, ok := h.conns[sub.SessionID]
		h.mu.RUnlock()
		if !ok {
			continue // session lives on another node; its own listener will deliver it
		}

		if delivered := cc.enqueue(Message{Type: MessageDelta, SubscriptionID: sub.ID, Change: &change}); !delivered {
			metrics.RealtimeBroadcastDroppedTotal.Inc()
		}
	}
}

func containsRowID(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
