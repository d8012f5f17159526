// Package ratelimit implements the token-bucket usecase layer on top of
// RateLimitRepository's single-upsert bucket (§4.9), grounded on
// original_source's rate_limit/limiter.rs: the same check formula, the
// same five bucket-key schemas, and the same allowed/remaining/reset_at
// result shape, translated from its axum Result enum into a plain Go
// struct.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
)

// Result is the outcome of one Check call.
type Result struct {
	Allowed    bool
	Remaining  float64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter enforces RateLimitRule policies against the persisted bucket.
type Limiter struct {
	repo repository.RateLimitRepository
}

func New(repo repository.RateLimitRepository) *Limiter {
	return &Limiter{repo: repo}
}

// Check spends one token from the bucket identified by key under rule,
// returning the resulting balance regardless of whether the request is
// allowed: a denied request still pays its share of the refill window.
func (l *Limiter) Check(ctx context.Context, action string, key string, rule domain.RateLimitRule) (Result, error) {
	maxTokens := rule.Requests
	refillRate := rule.Requests / rule.Per.Seconds()

	tokens, allowed, err := l.repo.Check(ctx, key, maxTokens, refillRate)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	remaining := tokens
	if remaining < 0 {
		remaining = 0
	}
	deficit := maxTokens - tokens
	var resetAt time.Time
	var retryAfter time.Duration
	if deficit > 0 && refillRate > 0 {
		resetAt = time.Now().Add(time.Duration(deficit / refillRate * float64(time.Second)))
	} else {
		resetAt = time.Now()
	}
	if !allowed && refillRate > 0 {
		retryAfter = time.Duration((1 - tokens) / refillRate * float64(time.Second))
	}

	status := "allowed"
	if !allowed {
		status = "denied"
	}
	metrics.RateLimitDecisionsTotal.WithLabelValues(action, status).Inc()

	return Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt, RetryAfter: retryAfter}, nil
}

// Enforce wraps Check and returns a forgeerr.RetryAfterError when the
// bucket is exhausted, the shape §4.9 requires a RATE_LIMITED response to
// carry.
func (l *Limiter) Enforce(ctx context.Context, action string, key string, rule domain.RateLimitRule) (Result, error) {
	res, err := l.Check(ctx, action, key, rule)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, forgeerr.NewRateLimited(res.RetryAfter.Seconds(), rule.Requests, res.Remaining)
	}
	return res, nil
}

// BuildKey builds the bucket key for keyType/action against the calling
// auth context and client IP, matching the five schemas: user:<uid>:<action>,
// ip:<ip>:<action>, tenant:<tid>:<action>, user_action:<uid>:<action>
// (kept distinct from "user" so a handler can scope a stricter rule to
// one action without affecting the caller's blanket user bucket), and
// global:<action>.
func BuildKey(keyType domain.RateLimitKeyType, action string, auth domain.AuthContext, clientIP string) string {
	switch keyType {
	case domain.RateLimitByUser:
		return fmt.Sprintf("user:%s:%s", auth.UserID(), action)
	case domain.RateLimitByIP:
		return fmt.Sprintf("ip:%s:%s", clientIP, action)
	case domain.RateLimitByTenant:
		return fmt.Sprintf("tenant:%s:%s", auth.TenantID, action)
	case domain.RateLimitByUserAction:
		return fmt.Sprintf("user_action:%s:%s", auth.UserID(), action)
	default:
		return fmt.Sprintf("global:%s", action)
	}
}
