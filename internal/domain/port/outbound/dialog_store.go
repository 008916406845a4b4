package outbound

import (
	"context"

	"github.com/jonny/refundbot/internal/domain/model"
)

// UpdateFunc receives the current context (nil when absent or expired) and
// returns the context to store. Returning nil removes the entry; returning an
// error leaves the entry untouched.
type UpdateFunc func(current *model.InteractionContext) (*model.InteractionContext, error)

// DialogStore holds short-lived interaction contexts with an inactivity TTL.
// Get on an absent or expired key returns model.ErrInteractionNotFound.
type DialogStore interface {
	Put(ctx context.Context, ic model.InteractionContext) error
	Get(ctx context.Context, interactionID string) (model.InteractionContext, error)
	Remove(ctx context.Context, interactionID string) error
	// Update runs fn as a single critical section for interactionID.
	Update(ctx context.Context, interactionID string, fn UpdateFunc) (*model.InteractionContext, error)
}
