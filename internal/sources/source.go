// Package sources defines the message-source collaborator contract and the
// built-in adapters that implement it.
package sources

import (
	"context"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Source is the contract one external messaging surface implements. The
// dispatch loop consumes prompts from it, delivers updates back through it,
// and asks it about thread lifecycle.
type Source interface {
	// Name identifies the surface (telegram, console) in logs and routing.
	Name() string

	// Prompts starts the inbound stream. The returned channel is closed when
	// ctx is done or the surface disconnects permanently.
	Prompts(ctx context.Context) (<-chan *models.Prompt, error)

	// Deliver pushes one outbound update to the surface.
	Deliver(ctx context.Context, update *models.Update) error

	// ThreadExists reports whether the backing thread/topic is still present
	// on the surface.
	ThreadExists(ctx context.Context, key models.ConversationKey) (bool, error)

	// CreateThread creates the backing thread/topic for a key that has none.
	CreateThread(ctx context.Context, key models.ConversationKey, title string) error
}
