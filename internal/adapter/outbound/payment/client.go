// Package payment implements the refund gateway client: idempotency keys,
// bounded retries, a circuit breaker and error translation around a
// RefundProcessor.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
	"github.com/jonny/refundbot/internal/observability"
)

// keyNamespace scopes the name-based UUIDs used as idempotency keys.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:refundbot:refund"))

// Config holds retry, timeout and breaker settings.
type Config struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	TotalTimeout   time.Duration
	Breaker        BreakerConfig
}

type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		AttemptTimeout: 5 * time.Second,
		TotalTimeout:   15 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:  1,
			Interval:     60 * time.Second,
			Timeout:      30 * time.Second,
			MinRequests:  5,
			FailureRatio: 0.6,
		},
	}
}

// Client is the outbound.RefundGateway implementation.
type Client struct {
	processor outbound.RefundProcessor
	cfg       Config
	breaker   *gobreaker.CircuitBreaker[outbound.ProcessorRefund]
	inflight  singleflight.Group
	metrics   *observability.Metrics
	logger    *slog.Logger
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient wraps processor. Zero values in cfg fall back to DefaultConfig.
func NewClient(processor outbound.RefundProcessor, cfg Config, opts ...Option) *Client {
	cfg = withDefaults(cfg)
	c := &Client{
		processor: processor,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "payment_gateway", "processor", processor.Name())

	c.breaker = gobreaker.NewCircuitBreaker[outbound.ProcessorRefund](gobreaker.Settings{
		Name:        processor.Name(),
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.Breaker.FailureRatio
		},
		// Business rejections and bad credentials say nothing about processor health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code := classify(err).Code
			return code == model.CodeInvalidRequest || code == model.CodeAuthFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if c.metrics != nil {
				c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	if c.metrics != nil {
		c.metrics.CircuitBreakerState.WithLabelValues(processor.Name()).Set(float64(gobreaker.StateClosed))
	}
	return c
}

var _ outbound.RefundGateway = (*Client)(nil)

// IdempotencyKey returns a UUIDv5 over the dialog, payment intent and amount.
// The same inputs always yield the same key.
func (c *Client) IdempotencyKey(interactionID, paymentIntentID string, amountMinor int64) string {
	return IdempotencyKey(interactionID, paymentIntentID, amountMinor)
}

func IdempotencyKey(interactionID, paymentIntentID string, amountMinor int64) string {
	name := fmt.Sprintf("%s|%s|%d", interactionID, paymentIntentID, amountMinor)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// Refund executes call and always returns a result. Concurrent calls sharing an
// idempotency key share one execution. The caller's cancellation does not abort
// a submitted refund; only the configured timeouts bound it.
func (c *Client) Refund(ctx context.Context, call model.RefundCall) model.RefundResult {
	if call.IdempotencyKey == "" {
		c.logger.Error("refund submitted without idempotency key", "payment_intent_id", call.PaymentIntentID, "charge_id", call.ChargeID)
		return model.RefundResult{
			Status:        model.RefundFailed,
			ErrorCode:     model.CodeUnknown,
			FailureReason: reasonUnknown,
			AmountMinor:   call.AmountMinor,
		}
	}

	v, _, shared := c.inflight.Do(call.IdempotencyKey, func() (any, error) {
		return c.execute(context.WithoutCancel(ctx), call), nil
	})
	if shared {
		c.logger.Info("duplicate refund submission joined in-flight call", "idempotency_key", call.IdempotencyKey)
	}
	return v.(model.RefundResult)
}

func (c *Client) execute(ctx context.Context, call model.RefundCall) model.RefundResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalTimeout)
	defer cancel()

	logger := c.logger.With(
		"payment_intent_id", call.PaymentIntentID,
		"charge_id", call.ChargeID,
		"amount_minor", call.AmountMinor,
		"idempotency_key", call.IdempotencyKey,
	)

	var (
		attempts int
		refund   outbound.ProcessorRefund
		lastErr  error
	)
	err := retry.Do(
		func() error {
			attempts++
			r, err := c.attempt(ctx, call)
			c.observeAttempt(err)
			if err != nil {
				lastErr = err
				return err
			}
			refund = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.MaxAttempts),
		retry.Delay(c.cfg.InitialBackoff),
		retry.MaxDelay(c.cfg.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, errCircuitOpen) {
				return false
			}
			return classify(err).Retryable()
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying refund", "attempt", n+1, "error", err)
		}),
	)

	var result model.RefundResult
	if err == nil {
		result = model.RefundResult{
			Status:          model.RefundSucceeded,
			RefundID:        refund.ID,
			IdempotencyKey:  call.IdempotencyKey,
			Attempts:        attempts,
			AmountMinor:     call.AmountMinor,
			Currency:        refund.Currency,
			ProcessorStatus: refund.Status,
			CreatedUnix:     refund.CreatedUnix,
		}
		if refund.AmountMinor > 0 {
			result.AmountMinor = refund.AmountMinor
		}
		logger.Info("refund created", "refund_id", refund.ID, "attempts", attempts)
	} else {
		if lastErr == nil {
			lastErr = err
		}
		gerr := classify(lastErr)
		if gerr.Code == model.CodeTransientNetwork && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			gerr.TimedOut = true
		}
		result = model.RefundResult{
			Status:         model.RefundFailed,
			ErrorCode:      gerr.Code,
			FailureReason:  failureReason(gerr, call),
			IdempotencyKey: call.IdempotencyKey,
			Attempts:       attempts,
			AmountMinor:    call.AmountMinor,
			TimedOut:       gerr.TimedOut,
		}
		c.logFailure(logger, gerr, attempts)
	}

	if c.metrics != nil {
		c.metrics.RefundsTotal.WithLabelValues(string(result.Status), string(result.ErrorCode)).Inc()
		c.metrics.RefundDuration.WithLabelValues(string(result.Status)).Observe(time.Since(start).Seconds())
	}
	return result
}

// attempt is one processor round-trip through the breaker, bounded by the
// per-attempt timeout.
func (c *Client) attempt(ctx context.Context, call model.RefundCall) (outbound.ProcessorRefund, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	r, err := c.breaker.Execute(func() (outbound.ProcessorRefund, error) {
		return c.processor.CreateRefund(attemptCtx, call)
	})
	if err == nil {
		return r, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return r, fmt.Errorf("%w: %w", errCircuitOpen, err)
	}
	if attemptCtx.Err() != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return r, &model.GatewayError{
			Code:     model.CodeTransientNetwork,
			Message:  "processor did not respond in time",
			TimedOut: true,
			Err:      err,
		}
	}
	return r, err
}

func (c *Client) observeAttempt(err error) {
	if c.metrics == nil {
		return
	}
	code := "OK"
	if err != nil {
		code = string(classify(err).Code)
	}
	c.metrics.RefundAttemptsTotal.WithLabelValues(code).Inc()
}

func (c *Client) logFailure(logger *slog.Logger, gerr *model.GatewayError, attempts int) {
	switch gerr.Code {
	case model.CodeAuthFailure:
		logger.Error("payment processor rejected credentials",
			"operator_action", "check the payment processor secret key",
			"category", gerr.Category(),
			"status_code", gerr.StatusCode,
			"attempts", attempts,
		)
	case model.CodeInvalidRequest:
		logger.Info("refund rejected by processor", "category", gerr.Category(), "message", gerr.Message, "attempts", attempts)
	default:
		logger.Warn("refund failed",
			"code", gerr.Code,
			"category", gerr.Category(),
			"timed_out", gerr.TimedOut,
			"attempts", attempts,
			"error", gerr,
		)
	}
}
