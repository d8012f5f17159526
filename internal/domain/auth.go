package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrTokenInvalid  = errors.New("token is invalid or expired")
	ErrUnauthorized  = errors.New("unauthorized")
)

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MagicToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Claims is the decoded payload of a verified bearer token: sub, iat, exp,
// roles, and whatever custom fields the issuer attached. Custom carries
// anything not promoted to a named field.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Roles     []string
	Custom    map[string]any
}

// HasRole reports whether the caller carries the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthContext is the caller identity attached to every router invocation.
// An unsigned or absent bearer token produces an AuthContext with
// Authenticated=false rather than an error — callers are anonymous, not
// rejected, until a handler's requires_auth says otherwise.
type AuthContext struct {
	Authenticated bool
	Claims        *Claims
	ClientIP      string
	TenantID      string
}

// UserID returns the caller's subject, or "" when unauthenticated.
func (a *AuthContext) UserID() string {
	if !a.Authenticated || a.Claims == nil {
		return ""
	}
	return a.Claims.Subject
}

// HasRole reports whether the authenticated caller carries role. An
// unauthenticated context never has a role.
func (a *AuthContext) HasRole(role string) bool {
	if !a.Authenticated || a.Claims == nil {
		return false
	}
	return a.Claims.HasRole(role)
}

// Anonymous is the zero-value unauthenticated context, used for public
// handlers and for callers that presented no bearer token.
func Anonymous() AuthContext {
	return AuthContext{Authenticated: false}
}
