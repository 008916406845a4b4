package outbound

import (
	"context"

	"github.com/jonny/refundbot/internal/domain/model"
)

// RefundLedger is the operator audit trail of refund attempts.
type RefundLedger interface {
	// Record inserts the record or, for a known idempotency key, replaces its outcome.
	Record(ctx context.Context, rec model.RefundRecord) error
	GetByIdempotencyKey(ctx context.Context, key string) (model.RefundRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.RefundRecord, error)
}
