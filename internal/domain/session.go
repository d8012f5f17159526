package domain

import (
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStatus tracks a realtime connection's lifecycle.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionDead   SessionStatus = "dead"
)

// Session is a live WebSocket connection owned by exactly one node. A node
// going dead implies all its sessions are dead.
type Session struct {
	ID                string
	NodeID            string
	UserID            string
	Status            SessionStatus
	SubscriptionCount int
	CreatedAt         time.Time
	LastActive        time.Time
}

// ReadSetKind distinguishes the two ways a subscription can describe the
// rows it depends on.
type ReadSetKind string

const (
	ReadSetRowIDs    ReadSetKind = "row_ids"
	ReadSetPredicate ReadSetKind = "predicate"
)

// Subscription is a live query's read-set registration, used to match
// incoming change notifications and compute deltas.
type Subscription struct {
	ID               string
	SessionID        string
	QueryFingerprint string
	Table            string
	ReadSetKind      ReadSetKind
	RowIDs           []string
	Predicate        string
	LastDeltaVersion int64
}
