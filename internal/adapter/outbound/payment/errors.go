package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jonny/refundbot/internal/domain/model"
)

var errCircuitOpen = errors.New("payment processor circuit open")

const (
	reasonTimedOut    = "The payment processor did not respond in time."
	reasonRateLimited = "The payment processor is receiving too many requests. Please try again in a few minutes."
	reasonNetwork     = "Could not reach the payment processor. Please try again shortly."
	reasonCircuitOpen = "Refunds are temporarily unavailable. Please try again in a few minutes."
	reasonUnavailable = "The refund service is currently unavailable. Please contact an administrator."
	reasonUnknown     = "The refund could not be processed due to an unexpected error."
)

// classify maps any error from an attempt onto a GatewayError. Processors are
// expected to return *model.GatewayError; everything else is inferred.
func classify(err error) *model.GatewayError {
	var gerr *model.GatewayError
	if errors.As(err, &gerr) {
		cp := *gerr
		return &cp
	}
	if errors.Is(err, errCircuitOpen) {
		return &model.GatewayError{Code: model.CodeTransientNetwork, Message: "circuit open", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.GatewayError{Code: model.CodeTransientNetwork, Message: "processor did not respond in time", TimedOut: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &model.GatewayError{Code: model.CodeTransientNetwork, Message: "network error", TimedOut: netErr.Timeout(), Err: err}
	}
	return &model.GatewayError{Code: model.CodeUnknown, Message: "unclassified processor error", Err: err}
}

// failureReason is the user-facing text for a failed refund. Processor business
// rejections are shown as sent, with a few well-known messages reworded.
// Credential and internal detail never reaches the user.
func failureReason(gerr *model.GatewayError, call model.RefundCall) string {
	if errors.Is(gerr, errCircuitOpen) {
		return reasonCircuitOpen
	}
	switch gerr.Code {
	case model.CodeInvalidRequest:
		return rejectionReason(gerr.Message, call)
	case model.CodeRateLimited:
		return reasonRateLimited
	case model.CodeTransientNetwork:
		if gerr.TimedOut {
			return reasonTimedOut
		}
		return reasonNetwork
	case model.CodeAuthFailure:
		return reasonUnavailable
	default:
		return reasonUnknown
	}
}

func rejectionReason(msg string, call model.RefundCall) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "no such payment_intent"):
		return fmt.Sprintf("Payment intent `%s` not found. Please verify the ID is correct.", call.PaymentIntentID)
	case strings.Contains(lower, "no such charge"):
		return fmt.Sprintf("Charge ID `%s` not found. Please verify the charge ID is correct.", call.ChargeID)
	case strings.Contains(lower, "already been refunded") && call.ChargeID != "":
		return "This charge has already been fully refunded."
	case strings.Contains(lower, "already been refunded"):
		return "This payment has already been fully refunded."
	case msg == "":
		return "The payment processor rejected the refund."
	default:
		return msg
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = def.TotalTimeout
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = def.Breaker.MaxRequests
	}
	if cfg.Breaker.Interval <= 0 {
		cfg.Breaker.Interval = def.Breaker.Interval
	}
	if cfg.Breaker.Timeout <= 0 {
		cfg.Breaker.Timeout = def.Breaker.Timeout
	}
	if cfg.Breaker.MinRequests == 0 {
		cfg.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if cfg.Breaker.FailureRatio <= 0 {
		cfg.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	return cfg
}
