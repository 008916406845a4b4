// Package stripe implements outbound.RefundProcessor against the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/refund"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
)

// Config holds Stripe connection settings.
type Config struct {
	SecretKey string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Processor issues refunds through the Stripe Refunds API. Retries are left to
// the gateway client so each call here is a single round-trip.
type Processor struct {
	refunds refund.Client
}

// New creates a Processor.
func New(cfg Config) (*Processor, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: secret key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(strings.TrimRight(cfg.BaseURL, "/"))
	}

	return &Processor{
		refunds: refund.Client{
			B:   stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
	}, nil
}

var _ outbound.RefundProcessor = (*Processor)(nil)

func (p *Processor) Name() string { return "stripe" }

// CreateRefund implements outbound.RefundProcessor.
func (p *Processor) CreateRefund(ctx context.Context, call model.RefundCall) (outbound.ProcessorRefund, error) {
	params := &stripeapi.RefundParams{
		Reason: stripeapi.String(string(stripeapi.RefundReasonRequestedByCustomer)),
	}
	if call.ChargeID != "" {
		params.Charge = stripeapi.String(call.ChargeID)
	} else {
		params.PaymentIntent = stripeapi.String(call.PaymentIntentID)
	}
	// Omitting the amount refunds whatever is left on the charge.
	if call.AmountMinor > 0 {
		params.Amount = stripeapi.Int64(call.AmountMinor)
	}
	params.Context = ctx
	params.SetIdempotencyKey(call.IdempotencyKey)
	for k, v := range call.Metadata {
		params.AddMetadata(k, v)
	}

	r, err := p.refunds.New(params)
	if err != nil {
		return outbound.ProcessorRefund{}, classify(ctx, err)
	}

	switch r.Status {
	case stripeapi.RefundStatusFailed, stripeapi.RefundStatusCanceled:
		return outbound.ProcessorRefund{}, &model.GatewayError{
			Code:    model.CodeInvalidRequest,
			Message: fmt.Sprintf("The refund was %s by the payment processor.", r.Status),
		}
	}

	return outbound.ProcessorRefund{
		ID:          r.ID,
		AmountMinor: r.Amount,
		Currency:    string(r.Currency),
		Status:      string(r.Status),
		CreatedUnix: r.Created,
	}, nil
}

// classify maps Stripe and transport errors onto gateway error codes.
func classify(ctx context.Context, err error) error {
	var serr *stripeapi.Error
	if errors.As(err, &serr) {
		return &model.GatewayError{
			Code:       codeFor(serr),
			Message:    serr.Msg,
			StatusCode: serr.HTTPStatusCode,
			Err:        err,
		}
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &model.GatewayError{Code: model.CodeTransientNetwork, Message: "processor did not respond in time", TimedOut: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &model.GatewayError{Code: model.CodeTransientNetwork, Message: "network error", TimedOut: netErr.Timeout(), Err: err}
	}
	return &model.GatewayError{Code: model.CodeUnknown, Message: "unexpected stripe error", Err: err}
}

func codeFor(serr *stripeapi.Error) model.ErrorCode {
	if serr.Code == stripeapi.ErrorCodeRateLimit || serr.Code == stripeapi.ErrorCodeLockTimeout {
		return model.CodeRateLimited
	}
	switch status := serr.HTTPStatusCode; {
	case status == http.StatusTooManyRequests:
		return model.CodeRateLimited
	// A concurrent request with the same idempotency key is still in flight.
	case status == http.StatusConflict:
		return model.CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.CodeAuthFailure
	case status >= 500:
		return model.CodeTransientNetwork
	case status >= 400:
		return model.CodeInvalidRequest
	}
	switch serr.Type {
	case stripeapi.ErrorTypeInvalidRequest, stripeapi.ErrorTypeCard, stripeapi.ErrorTypeIdempotency:
		return model.CodeInvalidRequest
	case stripeapi.ErrorTypeAPI:
		return model.CodeTransientNetwork
	}
	return model.CodeUnknown
}
