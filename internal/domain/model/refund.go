package model

import (
	"strings"
	"time"
)

type RefundStatus string

const (
	RefundSucceeded RefundStatus = "SUCCEEDED"
	RefundFailed    RefundStatus = "FAILED"
)

// ErrorCode classifies a processor failure.
type ErrorCode string

const (
	CodeNone             ErrorCode = ""
	CodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	CodeAuthFailure      ErrorCode = "AUTH_FAILURE"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Retryable reports whether a failure with this code may be retried with the
// same idempotency key.
func (c ErrorCode) Retryable() bool {
	return c == CodeRateLimited || c == CodeTransientNetwork
}

// RefundRequest is the validated user input from the refund form. ChargeID is
// set instead of PaymentIntentID for a full refund of a charge, in which case
// AmountMinor is zero.
type RefundRequest struct {
	PaymentIntentID string `validate:"required,max=255"`
	AmountMinor     int64  `validate:"gt=0"`
	Reason          string `validate:"required,max=500"`
	ChargeID        string `validate:"-"`
}

// Source returns the processor object being refunded.
func (r RefundRequest) Source() string {
	if r.ChargeID != "" {
		return r.ChargeID
	}
	return r.PaymentIntentID
}

// RefundCall is one logical refund operation sent through the gateway client.
// A call with ChargeID and zero AmountMinor refunds the whole charge.
type RefundCall struct {
	PaymentIntentID string
	ChargeID        string
	AmountMinor     int64
	Reason          string
	IdempotencyKey  string
	Metadata        map[string]string
}

// RefundResult is the outcome of a gateway call. RefundID is set only on
// success, FailureReason only on failure.
type RefundResult struct {
	Status          RefundStatus
	RefundID        string
	FailureReason   string
	ErrorCode       ErrorCode
	IdempotencyKey  string
	Attempts        int
	AmountMinor     int64
	Currency        string
	ProcessorStatus string
	CreatedUnix     int64
	TimedOut        bool
}

func (r RefundResult) Succeeded() bool { return r.Status == RefundSucceeded }

// Receipt is the render-only view of a successful refund.
type Receipt struct {
	PaymentIntentID string
	ChargeID        string
	AmountMinor     int64
	Currency        string
	Reason          string
	RefundID        string
	Status          string
	RequestedBy     string
	CreatedUnix     int64
}

// NewReceipt combines a request and a successful result. The processor-reported
// amount wins when present.
func NewReceipt(req RefundRequest, res RefundResult, requestedBy string) Receipt {
	amount := req.AmountMinor
	if res.AmountMinor > 0 {
		amount = res.AmountMinor
	}
	return Receipt{
		PaymentIntentID: req.PaymentIntentID,
		ChargeID:        req.ChargeID,
		AmountMinor:     amount,
		Currency:        res.Currency,
		Reason:          req.Reason,
		RefundID:        res.RefundID,
		Status:          res.ProcessorStatus,
		RequestedBy:     requestedBy,
		CreatedUnix:     res.CreatedUnix,
	}
}

// RefundRecord is the ledger row for a refund attempt, keyed by idempotency key.
type RefundRecord struct {
	ID              string
	IdempotencyKey  string
	InteractionID   string
	UserID          string
	ChannelID       string
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
	Reason          string
	Status          RefundStatus
	RefundID        string
	ErrorCode       ErrorCode
	FailureReason   string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewRefundRecord builds the ledger row for one gateway outcome. Full charge
// refunds carry no requested amount, so the processor amount is stored.
func NewRefundRecord(ev EventMeta, req RefundRequest, res RefundResult) RefundRecord {
	now := time.Now().UTC()
	amount := req.AmountMinor
	if amount == 0 {
		amount = res.AmountMinor
	}
	return RefundRecord{
		ID:              generateID(),
		IdempotencyKey:  res.IdempotencyKey,
		InteractionID:   ev.InteractionID,
		UserID:          ev.UserID,
		ChannelID:       ev.ChannelID,
		PaymentIntentID: req.Source(),
		AmountMinor:     amount,
		Currency:        res.Currency,
		Reason:          req.Reason,
		Status:          res.Status,
		RefundID:        res.RefundID,
		ErrorCode:       res.ErrorCode,
		FailureReason:   res.FailureReason,
		Attempts:        res.Attempts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Result rebuilds the RefundResult a record was written from.
func (r RefundRecord) Result() RefundResult {
	return RefundResult{
		Status:          r.Status,
		RefundID:        r.RefundID,
		FailureReason:   r.FailureReason,
		ErrorCode:       r.ErrorCode,
		IdempotencyKey:  r.IdempotencyKey,
		Attempts:        r.Attempts,
		AmountMinor:     r.AmountMinor,
		Currency:        r.Currency,
		ProcessorStatus: strings.ToLower(string(r.Status)),
	}
}
