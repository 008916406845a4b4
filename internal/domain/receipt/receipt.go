// Package receipt renders refund outcomes as message payloads.
package receipt

import (
	"fmt"
	"strings"

	"github.com/jonny/refundbot/internal/domain/model"
)

const (
	DefaultCurrencyPrefix = "$"

	settlementNotice = "Refund will appear on the original payment method within 5-10 business days."
	retryNotice      = "It is safe to submit the same refund again; it will not be applied twice."
)

// Renderer turns refund results into message payloads. It holds no state
// besides the configured currency prefix.
type Renderer struct {
	prefix string
}

// NewRenderer creates a Renderer. An empty prefix falls back to "$".
func NewRenderer(currencyPrefix string) *Renderer {
	if currencyPrefix == "" {
		currencyPrefix = DefaultCurrencyPrefix
	}
	return &Renderer{prefix: currencyPrefix}
}

// FormatAmount formats minor units as major units with exactly two decimals,
// e.g. 1999 -> "$19.99". Integer arithmetic only.
func FormatAmount(minor int64, prefix string) string {
	sign := ""
	u := uint64(minor)
	if minor < 0 {
		sign = "-"
		// math.MinInt64 has no positive int64 counterpart.
		u = uint64(-(minor + 1)) + 1
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, prefix, u/100, u%100)
}

// Amount formats minor units with the renderer's prefix.
func (r *Renderer) Amount(minor int64) string {
	return FormatAmount(minor, r.prefix)
}

// Render produces a receipt for a successful result and a failure message otherwise.
func (r *Renderer) Render(req model.RefundRequest, res model.RefundResult) model.MessagePayload {
	if !res.Succeeded() {
		return r.renderFailure(req, res)
	}
	return r.RenderReceipt(model.NewReceipt(req, res, ""))
}

// RenderReceipt renders an already assembled receipt.
func (r *Renderer) RenderReceipt(rc model.Receipt) model.MessagePayload {
	amount := r.Amount(rc.AmountMinor)
	if rc.Currency != "" {
		amount = amount + " " + strings.ToUpper(rc.Currency)
	}

	status := rc.Status
	if status == "" {
		status = "succeeded"
	}

	source, sourceLabel := rc.PaymentIntentID, "Payment Intent"
	if rc.ChargeID != "" {
		source, sourceLabel = rc.ChargeID, "Original Charge"
	}

	fields := []model.MessageField{
		{Label: "Refund ID", Value: rc.RefundID},
		{Label: "Amount", Value: amount},
		{Label: "Status", Value: titleCase(status)},
		{Label: sourceLabel, Value: source},
	}
	if rc.RequestedBy != "" {
		fields = append(fields, model.MessageField{Label: "Requested By", Value: "<@" + rc.RequestedBy + ">"})
	}
	if rc.CreatedUnix > 0 {
		fields = append(fields, model.MessageField{Label: "Timestamp", Value: slackDate(rc.CreatedUnix)})
	}

	return model.MessagePayload{
		Kind: model.MessageReceipt,
		Text: fmt.Sprintf("Refund processed: %s for %s (refund %s). Reason: %s",
			amount, source, rc.RefundID, rc.Reason),
		Title:         "Refund Processed Successfully",
		Fields:        fields,
		Body:          "Reason: " + rc.Reason,
		Footer:        settlementNotice,
		ChannelNotice: fmt.Sprintf("Refund of %s processed", r.Amount(rc.AmountMinor)),
	}
}

func (r *Renderer) renderFailure(req model.RefundRequest, res model.RefundResult) model.MessagePayload {
	reason := res.FailureReason
	if reason == "" {
		reason = "The refund could not be processed."
	}
	fields := []model.MessageField{{Label: "Payment Intent", Value: req.PaymentIntentID}}
	if req.ChargeID != "" {
		fields = []model.MessageField{{Label: "Charge", Value: req.ChargeID}}
	}
	if req.AmountMinor > 0 {
		fields = append(fields, model.MessageField{Label: "Amount", Value: r.Amount(req.AmountMinor)})
	}
	msg := model.MessagePayload{
		Kind:   model.MessageFailure,
		Text:   "Refund failed: " + reason,
		Title:  "Refund Failed",
		Fields: fields,
		Body:   reason,
	}
	if res.TimedOut || res.ErrorCode.Retryable() {
		msg.Footer = retryNotice
	}
	return msg
}

// slackDate renders a unix time with Slack's date token so each reader sees
// their own timezone. The raw value is the fallback text.
func slackDate(unix int64) string {
	return fmt.Sprintf("<!date^%d^{date_short} {time}|%d>", unix, unix)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(strings.ToLower(s), "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
