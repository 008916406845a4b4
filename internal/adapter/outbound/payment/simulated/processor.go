// Package simulated provides an in-process refund processor for local
// development and demos. It honours idempotency keys like a real processor.
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
)

// MissingPrefix marks payment intent IDs the simulator treats as unknown.
const MissingPrefix = "pi_missing"

// MissingChargePrefix marks charge IDs the simulator treats as unknown.
const MissingChargePrefix = "ch_missing"

// Processor is a configurable fake payment processor.
type Processor struct {
	latency     time.Duration
	failureRate float64 // 0.0 to 1.0
	timeoutRate float64 // 0.0 to 1.0
	capturable  int64

	mu       sync.Mutex
	byKey    map[string]outbound.ProcessorRefund
	refunded map[string]int64
	now      func() time.Time
}

type Option func(*Processor)

// WithLatency sets the simulated round-trip latency.
func WithLatency(d time.Duration) Option {
	return func(p *Processor) { p.latency = d }
}

// WithFailureRate sets the probability of a simulated transient failure.
func WithFailureRate(rate float64) Option {
	return func(p *Processor) { p.failureRate = rate }
}

// WithTimeoutRate sets the probability that a call hangs until its deadline.
func WithTimeoutRate(rate float64) Option {
	return func(p *Processor) { p.timeoutRate = rate }
}

// WithCapturable sets the captured amount of every simulated payment intent.
func WithCapturable(minor int64) Option {
	return func(p *Processor) { p.capturable = minor }
}

func New(opts ...Option) *Processor {
	p := &Processor{
		latency:    100 * time.Millisecond,
		capturable: 100_000,
		byKey:      make(map[string]outbound.ProcessorRefund),
		refunded:   make(map[string]int64),
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var _ outbound.RefundProcessor = (*Processor)(nil)

func (p *Processor) Name() string { return "simulated" }

func (p *Processor) CreateRefund(ctx context.Context, call model.RefundCall) (outbound.ProcessorRefund, error) {
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return outbound.ProcessorRefund{}, ctx.Err()
	}

	if rand.Float64() < p.timeoutRate {
		<-ctx.Done()
		return outbound.ProcessorRefund{}, ctx.Err()
	}
	if rand.Float64() < p.failureRate {
		return outbound.ProcessorRefund{}, &model.GatewayError{
			Code:       model.CodeTransientNetwork,
			Message:    "simulated processing failure",
			StatusCode: 503,
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.byKey[call.IdempotencyKey]; ok {
		return r, nil
	}

	source := call.PaymentIntentID
	if call.ChargeID != "" {
		source = call.ChargeID
	}

	switch {
	case call.ChargeID != "" && strings.HasPrefix(call.ChargeID, MissingChargePrefix):
		return outbound.ProcessorRefund{}, &model.GatewayError{
			Code:       model.CodeInvalidRequest,
			Message:    fmt.Sprintf("No such charge: '%s'", call.ChargeID),
			StatusCode: 404,
		}
	case call.ChargeID == "" && strings.HasPrefix(call.PaymentIntentID, MissingPrefix):
		return outbound.ProcessorRefund{}, &model.GatewayError{
			Code:       model.CodeInvalidRequest,
			Message:    fmt.Sprintf("No such payment_intent: '%s'", call.PaymentIntentID),
			StatusCode: 404,
		}
	}

	remaining := p.capturable - p.refunded[source]
	if remaining <= 0 {
		return outbound.ProcessorRefund{}, &model.GatewayError{
			Code:       model.CodeInvalidRequest,
			Message:    fmt.Sprintf("Charge for %s has already been refunded.", source),
			StatusCode: 400,
		}
	}
	amount := call.AmountMinor
	if amount == 0 {
		amount = remaining
	}
	if amount > remaining {
		return outbound.ProcessorRefund{}, &model.GatewayError{
			Code:       model.CodeInvalidRequest,
			Message:    fmt.Sprintf("Refund amount (%d) is greater than unrefunded amount on charge (%d)", call.AmountMinor, remaining),
			StatusCode: 400,
		}
	}

	r := outbound.ProcessorRefund{
		ID:          "re_sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		AmountMinor: amount,
		Currency:    "usd",
		Status:      "succeeded",
		CreatedUnix: p.now().Unix(),
	}
	p.byKey[call.IdempotencyKey] = r
	p.refunded[source] += amount
	return r, nil
}
