package domain

import "time"

// RateLimitKeyType selects how a bucket key is built from the caller's
// identity and the action being limited.
type RateLimitKeyType string

const (
	RateLimitByUser       RateLimitKeyType = "user"
	RateLimitByIP         RateLimitKeyType = "ip"
	RateLimitByTenant     RateLimitKeyType = "tenant"
	RateLimitByUserAction RateLimitKeyType = "user_action"
	RateLimitGlobal       RateLimitKeyType = "global"
)

// RateLimitRule is the router-declared policy for a handler.
type RateLimitRule struct {
	Requests float64
	Per      time.Duration
	KeyType  RateLimitKeyType
}

// RateLimitBucket is the persisted token-bucket state for one key.
// Updated atomically by an upsert that recomputes tokens from elapsed
// time; this struct is the read-back shape of that upsert.
type RateLimitBucket struct {
	Key        string
	Tokens     float64
	MaxTokens  float64
	RefillRate float64
	LastRefill time.Time
}
