package registry

import (
	"context"
	"sync"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Registry maps conversation keys to their scopes. All methods are safe for
// concurrent use from arbitrarily many conversations.
type Registry struct {
	base context.Context

	mu     sync.Mutex
	scopes map[models.ConversationKey]*Scope
}

// New creates a registry whose scopes derive from base, typically the
// process-wide shutdown context.
func New(base context.Context) *Registry {
	if base == nil {
		base = context.Background()
	}
	return &Registry{
		base:   base,
		scopes: make(map[models.ConversationKey]*Scope),
	}
}

// Resolve returns the scope registered for key, creating and registering one
// atomically if none exists. isNew is true for exactly one caller per key,
// even under concurrent resolution of the same unseen key.
func (r *Registry) Resolve(key models.ConversationKey) (scope *Scope, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.scopes[key]; ok {
		return s, false
	}
	s := newScope(r.base, key)
	r.scopes[key] = s
	return s, true
}

// Clean removes the registration for key, if present, and tears the scope
// down (cancellation plus teardown callbacks). Cleaning an absent key is a
// no-op.
func (r *Registry) Clean(key models.ConversationKey) {
	r.mu.Lock()
	s, ok := r.scopes[key]
	if ok {
		delete(r.scopes, key)
	}
	r.mu.Unlock()

	// Teardown runs outside the lock: callbacks may re-enter the registry.
	if ok {
		s.teardown()
	}
}

// Keys returns a snapshot of the currently registered keys. The snapshot is
// independent of later mutation and may be ranged over any number of times.
func (r *Registry) Keys() []models.ConversationKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]models.ConversationKey, 0, len(r.scopes))
	for k := range r.scopes {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of registered scopes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scopes)
}

// Shutdown tears down every registered scope. Used on process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	scopes := make([]*Scope, 0, len(r.scopes))
	for k, s := range r.scopes {
		scopes = append(scopes, s)
		delete(r.scopes, k)
	}
	r.mu.Unlock()

	for _, s := range scopes {
		s.teardown()
	}
}
