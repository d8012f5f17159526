// Package gateway is the RPC/WebSocket HTTP surface (§4.7, §6): a gin
// engine dispatching into internal/router, grounded on the job scheduler
// this runtime descends from's internal/http and internal/transport/http
// generations — the latter superseded the former's single-secret HS256
// check with a JWKS-or-HMAC dual path, which this package generalizes
// from "set userID in gin context" to "build a domain.AuthContext",
// since every RPC handler needs roles and custom claims, not just a
// subject id.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/forgehq/forge/internal/domain"
)

// Verifier turns a raw bearer token into domain.Claims. Two
// implementations exist because the gateway supports both local HMAC
// secrets and a remote JWKS endpoint (RS256), matching the teacher's own
// "Clerk JWKS or legacy local HS256" split.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*domain.Claims, error)
}

// hmacVerifier checks HS256/HS384/HS512 tokens against a static secret.
type hmacVerifier struct {
	secret    []byte
	algorithm string
}

func NewHMACVerifier(secret []byte, algorithm string) Verifier {
	return &hmacVerifier{secret: secret, algorithm: algorithm}
}

func (v *hmacVerifier) Verify(_ context.Context, rawToken string) (*domain.Claims, error) {
	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("token invalid: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claimsFromMap(claims)
}

// jwksVerifier checks RS256 tokens against a remote, auto-refreshed JWKS.
type jwksVerifier struct {
	jwksURL string
	cache   *jwxjwt.Cache
}

func NewJWKSVerifier(jwksURL string) Verifier {
	cache := jwxjwt.NewCache(context.Background())
	return &jwksVerifier{jwksURL: jwksURL, cache: cache}
}

func (v *jwksVerifier) Verify(ctx context.Context, rawToken string) (*domain.Claims, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	tok, err := jwxjwt.Parse([]byte(rawToken), jwxjwt.WithKeySet(keySet), jwxjwt.WithValidate(true), jwxjwt.WithAcceptableSkew(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("token invalid: %w", err)
	}
	return claimsFromToken(tok)
}

func claimsFromMap(m jwt.MapClaims) (*domain.Claims, error) {
	sub, _ := m["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}
	c := &domain.Claims{Subject: sub, Custom: map[string]any{}}
	if iat, ok := m["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := m["exp"].(float64); ok {
		c.ExpiresAt = time.Unix(int64(exp), 0)
	}
	c.Roles = stringSlice(m["roles"])
	for k, v := range m {
		switch k {
		case "sub", "iat", "exp", "roles":
		default:
			c.Custom[k] = v
		}
	}
	return c, nil
}

func claimsFromToken(tok jwxjwt.Token) (*domain.Claims, error) {
	if tok.Subject() == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}
	c := &domain.Claims{
		Subject:   tok.Subject(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
		Custom:    map[string]any{},
	}
	if roles, ok := tok.Get("roles"); ok {
		c.Roles = stringSlice(roles)
	}
	for k, v := range tok.PrivateClaims() {
		if k == "roles" {
			continue
		}
		c.Custom[k] = v
	}
	return c, nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// bearerToken extracts the raw token from an "Authorization: Bearer …"
// header. Returns "" (not an error) when absent, since an absent token
// means "anonymous caller", not "reject".
func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
