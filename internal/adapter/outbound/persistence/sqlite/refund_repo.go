package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
)

// RefundRepo implements outbound.RefundLedger using SQLite.
type RefundRepo struct {
	db *sql.DB
}

// NewRefundRepo creates a new RefundRepo backed by the given store.
func NewRefundRepo(store *Store) *RefundRepo {
	return &RefundRepo{db: store.DB}
}

var _ outbound.RefundLedger = (*RefundRepo)(nil)

const refundColumns = `id, idempotency_key, interaction_id, user_id, channel_id, payment_intent_id,
	amount_minor, currency, reason, status, refund_id, error_code, failure_reason, attempts,
	created_at, updated_at`

// Record inserts rec, or replaces the outcome of the row with the same
// idempotency key. The original id and created_at are kept. A SUCCEEDED row is
// final: later outcomes for its key are ignored.
func (r *RefundRepo) Record(ctx context.Context, rec model.RefundRecord) error {
	if rec.IdempotencyKey == "" {
		return fmt.Errorf("recording refund: empty idempotency key")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	const q = `INSERT INTO refunds (` + refundColumns + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			status = excluded.status,
			refund_id = excluded.refund_id,
			currency = excluded.currency,
			error_code = excluded.error_code,
			failure_reason = excluded.failure_reason,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at
		WHERE refunds.status <> 'SUCCEEDED'`

	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.IdempotencyKey, rec.InteractionID, rec.UserID, rec.ChannelID, rec.PaymentIntentID,
		rec.AmountMinor, rec.Currency, rec.Reason,
		string(rec.Status), rec.RefundID, string(rec.ErrorCode), rec.FailureReason, rec.Attempts,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording refund: %w", err)
	}
	return nil
}

// GetByIdempotencyKey returns model.ErrLedgerRecordNotFound for unknown keys.
func (r *RefundRepo) GetByIdempotencyKey(ctx context.Context, key string) (model.RefundRecord, error) {
	const q = `SELECT ` + refundColumns + ` FROM refunds WHERE idempotency_key = ?`

	rec, err := scanRefund(r.db.QueryRowContext(ctx, q, key))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefundRecord{}, model.ErrLedgerRecordNotFound
	}
	if err != nil {
		return model.RefundRecord{}, fmt.Errorf("fetching refund: %w", err)
	}
	return rec, nil
}

// ListByUser returns the user's most recent refunds, newest first.
func (r *RefundRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.RefundRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `SELECT ` + refundColumns + ` FROM refunds
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying refunds by user: %w", err)
	}
	defer rows.Close()

	var results []model.RefundRecord
	for rows.Next() {
		rec, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning refund: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

type refundScanner interface {
	Scan(dest ...any) error
}

func scanRefund(s refundScanner) (model.RefundRecord, error) {
	var rec model.RefundRecord
	var status, code string

	err := s.Scan(
		&rec.ID, &rec.IdempotencyKey, &rec.InteractionID, &rec.UserID, &rec.ChannelID, &rec.PaymentIntentID,
		&rec.AmountMinor, &rec.Currency, &rec.Reason,
		&status, &rec.RefundID, &code, &rec.FailureReason, &rec.Attempts,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return model.RefundRecord{}, err
	}
	rec.Status = model.RefundStatus(status)
	rec.ErrorCode = model.ErrorCode(code)
	return rec, nil
}
