// Package registry tracks the lifecycle of active conversations. Each
// conversation key maps to at most one Scope, the cancellation and teardown
// object every component borrows while running work for that key.
package registry

import (
	"context"
	"sync"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Scope is the per-conversation lifecycle object. Its context derives from
// the process-wide context, so a turn observing scope.Context() sees whichever
// of the two cancellation signals fires first.
//
// Scopes are owned exclusively by the Registry; other components must not
// retain one past its teardown.
type Scope struct {
	key    models.ConversationKey
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	callbacks []func()
	torn      bool
}

func newScope(parent context.Context, key models.ConversationKey) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{key: key, ctx: ctx, cancel: cancel}
}

// Key returns the conversation key this scope is bound to.
func (s *Scope) Key() models.ConversationKey { return s.key }

// Context returns the scope's cancellation context.
func (s *Scope) Context() context.Context { return s.ctx }

// Done reports whether the scope has been torn down or cancelled.
func (s *Scope) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torn || s.ctx.Err() != nil
}

// OnTeardown registers a callback invoked exactly once when the scope is torn
// down. If the scope is already torn down the callback runs immediately.
func (s *Scope) OnTeardown(fn func()) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		fn()
		return
	}
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// teardown cancels the scope and fires registered callbacks. Subsequent calls
// are no-ops.
func (s *Scope) teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	s.cancel()
	for _, fn := range callbacks {
		fn()
	}
}
