package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/domain"
)

// Kind is the declared shape of a registered function, governing how
// Dispatch executes it.
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
	KindAction   Kind = "action"
)

// Meta is the policy attached to a registered function.
type Meta struct {
	RequiresAuth bool
	RequiredRole string
	IsPublic     bool
	CacheTTL     time.Duration
	RateLimit    *domain.RateLimitRule
}

type QueryFunc func(ctx *QueryContext) (json.RawMessage, error)
type MutationFunc func(ctx *MutationContext) (json.RawMessage, error)
type ActionFunc func(ctx *ActionContext) (json.RawMessage, error)

type entry struct {
	name     string
	kind     Kind
	meta     Meta
	query    QueryFunc
	mutation MutationFunc
	action   ActionFunc
}

// Registry is the name→handler map Dispatch consults. Built at startup;
// a duplicate name is a programming error, matching this runtime's
// other registries (worker.Registry, workflow.Registry).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

func (r *Registry) RegisterQuery(name string, meta Meta, fn QueryFunc) {
	r.add(&entry{name: name, kind: KindQuery, meta: meta, query: fn})
}

func (r *Registry) RegisterMutation(name string, meta Meta, fn MutationFunc) {
	r.add(&entry{name: name, kind: KindMutation, meta: meta, mutation: fn})
}

func (r *Registry) RegisterAction(name string, meta Meta, fn ActionFunc) {
	r.add(&entry{name: name, kind: KindAction, meta: meta, action: fn})
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.name]; exists {
		panic(fmt.Sprintf("router: function %q already registered", e.name))
	}
	r.entries[e.name] = e
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}
