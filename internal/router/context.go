// Package router implements the function registry and dispatch pipeline
// (§4.7): lookup, auth gate, rate limit, cache-or-execute for queries,
// transaction-wrapped execution for mutations, and unwrapped execution
// for actions. Grounded on the HTTP handler dispatch shape of the job
// scheduler this runtime descends from's internal/transport/http/handler
// package (bind → authorize → call usecase → map error), generalized
// from "one gin handler per endpoint" to "one registered function per
// name, dispatched by a single pipeline".
package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/forgehq/forge/internal/domain"
)

// RequestContext is the part of a handler's context common to every
// kind: the caller's identity, the inbound arguments, and the
// cancellation-carrying context.Context for this invocation.
type RequestContext struct {
	Ctx  context.Context
	Auth domain.AuthContext
	Args json.RawMessage
}

// QueryContext is passed to query handlers. Queries must not mutate
// state; the router does not hold a transaction open for them.
type QueryContext struct {
	RequestContext
}

// MutationContext is passed to mutation handlers. Tx is held open for
// the handler's entire lifetime and committed or rolled back by the
// router based on whether the handler returns an error.
type MutationContext struct {
	RequestContext
	Tx pgx.Tx
}

// ActionContext is passed to action handlers. No implicit transaction is
// held; the handler may open its own and call nested queries/mutations.
type ActionContext struct {
	RequestContext
	HTTPClient *http.Client
}

// JobContext gives job bodies the same Auth/Args shape as RPC-dispatched
// functions. Router.Dispatch does not build one: it dispatches queries,
// mutations and actions only, and worker.Registry handlers receive the
// *domain.Job directly.
type JobContext struct {
	RequestContext
	Job *domain.Job
}
