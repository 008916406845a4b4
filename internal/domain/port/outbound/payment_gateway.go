package outbound

import (
	"context"

	"github.com/jonny/refundbot/internal/domain/model"
)

// RefundGateway executes refunds against the payment processor. Refund never
// fails outright; processor problems are reported in the returned result.
type RefundGateway interface {
	Refund(ctx context.Context, call model.RefundCall) model.RefundResult
	// IdempotencyKey derives the key for one logical refund of a dialog.
	IdempotencyKey(interactionID, paymentIntentID string, amountMinor int64) string
}

// RefundProcessor is a single round-trip to a payment processor. Errors should
// be *model.GatewayError where the processor response allows classification.
type RefundProcessor interface {
	Name() string
	CreateRefund(ctx context.Context, call model.RefundCall) (ProcessorRefund, error)
}

type ProcessorRefund struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string
	CreatedUnix int64
}
