// Package testkit builds router context values for handler unit tests
// without going through Router.Dispatch, so a query/mutation/action/job
// handler can be tested as a plain function call. Plain constructor
// functions, not a reflection-based mock library, matching the teacher's
// hand-written-fake test style.
package testkit

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/router"
)

func marshalArgs(args any) json.RawMessage {
	if raw, ok := args.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return b
}

// NewQueryContext builds a *router.QueryContext with args marshaled to
// JSON and ctx/auth defaulted for tests that don't care about them.
func NewQueryContext(auth domain.AuthContext, args any) *router.QueryContext {
	return &router.QueryContext{RequestContext: router.RequestContext{
		Ctx: context.Background(), Auth: auth, Args: marshalArgs(args),
	}}
}

// NewMutationContext builds a *router.MutationContext with the given
// (typically fake) transaction.
func NewMutationContext(auth domain.AuthContext, args any, tx pgx.Tx) *router.MutationContext {
	return &router.MutationContext{
		RequestContext: router.RequestContext{Ctx: context.Background(), Auth: auth, Args: marshalArgs(args)},
		Tx:             tx,
	}
}

// NewActionContext builds a *router.ActionContext. A nil client defaults
// to http.DefaultClient.
func NewActionContext(auth domain.AuthContext, args any, client *http.Client) *router.ActionContext {
	if client == nil {
		client = http.DefaultClient
	}
	return &router.ActionContext{
		RequestContext: router.RequestContext{Ctx: context.Background(), Auth: auth, Args: marshalArgs(args)},
		HTTPClient:     client,
	}
}

// NewJobContext builds a *router.JobContext for a handler written
// against that type.
func NewJobContext(auth domain.AuthContext, args any, job *domain.Job) *router.JobContext {
	return &router.JobContext{
		RequestContext: router.RequestContext{Ctx: context.Background(), Auth: auth, Args: marshalArgs(args)},
		Job:            job,
	}
}
