package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/ratelimit"
)

// TxBeginner is the subset of *pgxpool.Pool mutation dispatch needs;
// kept minimal so tests can supply a fake without a real pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Router runs the seven-step dispatch pipeline of §4.7 against a
// Registry.
type Router struct {
	registry   *Registry
	cache      *QueryCache
	limiter    *ratelimit.Limiter
	db         TxBeginner
	httpClient *http.Client
}

func New(registry *Registry, cache *QueryCache, limiter *ratelimit.Limiter, db TxBeginner, httpClient *http.Client) *Router {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Router{registry: registry, cache: cache, limiter: limiter, db: db, httpClient: httpClient}
}

// Dispatch runs the full pipeline for one call: lookup, auth gate, role
// gate, rate limit, then kind-specific execution.
func (rt *Router) Dispatch(ctx context.Context, name string, auth domain.AuthContext, clientIP string, args json.RawMessage) (json.RawMessage, error) {
	e, ok := rt.registry.lookup(name)
	if !ok {
		return nil, forgeerr.New(forgeerr.KindNotFound, fmt.Sprintf("no function registered as %q", name))
	}

	if !e.meta.IsPublic && !auth.Authenticated {
		return nil, forgeerr.New(forgeerr.KindUnauthorized, "authentication required")
	}
	if e.meta.RequiredRole != "" && !auth.HasRole(e.meta.RequiredRole) {
		return nil, forgeerr.New(forgeerr.KindForbidden, fmt.Sprintf("requires role %q", e.meta.RequiredRole))
	}
	if e.meta.RateLimit != nil && rt.limiter != nil {
		key := ratelimit.BuildKey(e.meta.RateLimit.KeyType, name, auth, clientIP)
		if _, err := rt.limiter.Enforce(ctx, name, key, *e.meta.RateLimit); err != nil {
			return nil, err
		}
	}

	rc := RequestContext{Ctx: ctx, Auth: auth, Args: args}

	switch e.kind {
	case KindQuery:
		return rt.dispatchQuery(e, rc)
	case KindMutation:
		return rt.dispatchMutation(ctx, e, rc)
	case KindAction:
		return rt.dispatchAction(e, rc)
	default:
		return nil, forgeerr.New(forgeerr.KindInternal, fmt.Sprintf("unknown function kind %q", e.kind))
	}
}

func (rt *Router) dispatchQuery(e *entry, rc RequestContext) (json.RawMessage, error) {
	var cacheKey string
	if e.meta.CacheTTL > 0 && rt.cache != nil {
		if key, err := CacheKey(e.name, rc.Args); err == nil {
			cacheKey = key
			if cached, hit := rt.cache.Get(cacheKey); hit {
				return cached, nil
			}
		}
	}

	out, err := e.query(&QueryContext{RequestContext: rc})
	if err != nil {
		return nil, err
	}
	if cacheKey != "" {
		rt.cache.Set(cacheKey, out, e.meta.CacheTTL)
	}
	return out, nil
}

// dispatchMutation holds a transaction open for the handler's entire
// lifetime, per §4.7 item 6: the handler's error decides commit vs
// rollback, never a partial write.
func (rt *Router) dispatchMutation(ctx context.Context, e *entry, rc RequestContext) (json.RawMessage, error) {
	if rt.db == nil {
		return nil, forgeerr.New(forgeerr.KindInternal, "no database configured for mutations")
	}
	tx, err := rt.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mutation transaction: %w", err)
	}

	out, err := e.mutation(&MutationContext{RequestContext: rc, Tx: tx})
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mutation transaction: %w", err)
	}
	return out, nil
}

// dispatchAction runs with no implicit transaction, per §4.7 item 7; the
// handler may open its own and call nested queries/mutations.
func (rt *Router) dispatchAction(e *entry, rc RequestContext) (json.RawMessage, error) {
	return e.action(&ActionContext{RequestContext: rc, HTTPClient: rt.httpClient})
}
