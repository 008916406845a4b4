package inbound

import (
	"context"

	"github.com/jonny/refundbot/internal/domain/model"
)

// EventHandler consumes platform events and always produces a payload to show
// the requester. It never returns an error: failures become message payloads.
type EventHandler interface {
	HandleEvent(ctx context.Context, event model.Event) model.Payload
}
