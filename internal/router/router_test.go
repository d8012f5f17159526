package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/ratelimit"
	"github.com/forgehq/forge/internal/router"
)

type fakeBucketRepo struct {
	tokens  float64
	allowed bool
}

func (f *fakeBucketRepo) Check(context.Context, string, float64, float64) (float64, bool, error) {
	return f.tokens, f.allowed, nil
}
func (f *fakeBucketRepo) Reset(context.Context, string) error { return nil }

func echoQuery(ctx *router.QueryContext) (json.RawMessage, error) {
	return ctx.Args, nil
}

func TestDispatch_NotFound(t *testing.T) {
	reg := router.NewRegistry()
	rt := router.New(reg, router.NewQueryCache(10), nil, nil, nil)

	_, err := rt.Dispatch(context.Background(), "missing", domain.Anonymous(), "", nil)
	if forgeerr.KindOf(err) != forgeerr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDispatch_RequiresAuth(t *testing.T) {
	reg := router.NewRegistry()
	reg.RegisterQuery("whoami", router.Meta{}, echoQuery)
	rt := router.New(reg, router.NewQueryCache(10), nil, nil, nil)

	_, err := rt.Dispatch(context.Background(), "whoami", domain.Anonymous(), "", nil)
	if forgeerr.KindOf(err) != forgeerr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestDispatch_RequiresRole(t *testing.T) {
	reg := router.NewRegistry()
	reg.RegisterQuery("admin_only", router.Meta{RequiredRole: "admin"}, echoQuery)
	rt := router.New(reg, router.NewQueryCache(10), nil, nil, nil)

	auth := domain.AuthContext{Authenticated: true, Claims: &domain.Claims{Subject: "u1"}}
	_, err := rt.Dispatch(context.Background(), "admin_only", auth, "", nil)
	if forgeerr.KindOf(err) != forgeerr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	reg := router.NewRegistry()
	reg.RegisterQuery("limited", router.Meta{
		IsPublic:  true,
		RateLimit: &domain.RateLimitRule{Requests: 5, Per: time.Minute, KeyType: domain.RateLimitGlobal},
	}, echoQuery)

	limiter := ratelimit.New(&fakeBucketRepo{tokens: -1, allowed: false})
	rt := router.New(reg, router.NewQueryCache(10), limiter, nil, nil)

	_, err := rt.Dispatch(context.Background(), "limited", domain.Anonymous(), "1.2.3.4", nil)
	if forgeerr.KindOf(err) != forgeerr.KindRateLimitExceeded {
		t.Fatalf("expected rate limit exceeded, got %v", err)
	}
}

func TestDispatch_QueryCacheHit(t *testing.T) {
	calls := 0
	reg := router.NewRegistry()
	reg.RegisterQuery("cached", router.Meta{IsPublic: true, CacheTTL: time.Minute}, func(ctx *router.QueryContext) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"n":1}`), nil
	})
	rt := router.New(reg, router.NewQueryCache(10), nil, nil, nil)

	args := json.RawMessage(`{"b":2,"a":1}`)
	if _, err := rt.Dispatch(context.Background(), "cached", domain.Anonymous(), "", args); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	// Same args with different key order must hit the same cache entry.
	args2 := json.RawMessage(`{"a":1,"b":2}`)
	if _, err := rt.Dispatch(context.Background(), "cached", domain.Anonymous(), "", args2); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected handler called once, got %d", calls)
	}
}

func TestDispatch_Action(t *testing.T) {
	reg := router.NewRegistry()
	reg.RegisterAction("ping", router.Meta{IsPublic: true}, func(ctx *router.ActionContext) (json.RawMessage, error) {
		if ctx.HTTPClient == nil {
			t.Fatal("expected default http client")
		}
		return json.RawMessage(`"pong"`), nil
	})
	rt := router.New(reg, router.NewQueryCache(10), nil, nil, nil)

	out, err := rt.Dispatch(context.Background(), "ping", domain.Anonymous(), "", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var s string
	_ = json.Unmarshal(out, &s)
	if s != "pong" {
		t.Fatalf("unexpected output %q", s)
	}
}

func TestDispatch_MutationNoDB(t *testing.T) {
	reg := router.NewRegistry()
	reg.RegisterMutation("write", router.Meta{IsPublic: true}, func(ctx *router.MutationContext) (json.RawMessage, error) {
		return nil, nil
	})
	rt := router.New(reg, router.NewQueryCache(10), nil, nil, nil)

	_, err := rt.Dispatch(context.Background(), "write", domain.Anonymous(), "", nil)
	if forgeerr.KindOf(err) != forgeerr.KindInternal {
		t.Fatalf("expected internal error for missing db, got %v", err)
	}
}

type failingTxBeginner struct{ err error }

func (f *failingTxBeginner) Begin(context.Context) (pgx.Tx, error) { return nil, f.err }

func TestDispatch_MutationBeginFails(t *testing.T) {
	reg := router.NewRegistry()
	reg.RegisterMutation("write", router.Meta{IsPublic: true}, func(ctx *router.MutationContext) (json.RawMessage, error) {
		return nil, nil
	})
	rt := router.New(reg, router.NewQueryCache(10), nil, &failingTxBeginner{err: errors.New("pool exhausted")}, nil)

	_, err := rt.Dispatch(context.Background(), "write", domain.Anonymous(), "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}
