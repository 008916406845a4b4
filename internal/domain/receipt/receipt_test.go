package receipt_test

import (
	"math"
	"strings"
	"testing"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/receipt"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor  int64
		prefix string
		want   string
	}{
		{1999, "$", "$19.99"},
		{1, "$", "$0.01"},
		{100, "$", "$1.00"},
		{0, "$", "$0.00"},
		{123456789, "€", "€1234567.89"},
		{505, "", "5.05"},
		{-250, "$", "-$2.50"},
		{math.MaxInt64, "$", "$92233720368547758.07"},
		{math.MinInt64, "$", "-$92233720368547758.08"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := receipt.FormatAmount(tt.minor, tt.prefix)
			if got != tt.want {
				t.Errorf("FormatAmount(%d, %q) = %q, want %q", tt.minor, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestRender_Succeeded(t *testing.T) {
	r := receipt.NewRenderer("")
	req := model.RefundRequest{PaymentIntentID: "pi_test123", AmountMinor: 1999, Reason: "duplicate charge"}
	res := model.RefundResult{
		Status:          model.RefundSucceeded,
		RefundID:        "re_test456",
		AmountMinor:     1999,
		ProcessorStatus: "succeeded",
	}

	msg := r.Render(req, res)

	if msg.Kind != model.MessageReceipt {
		t.Fatalf("Kind = %q, want receipt", msg.Kind)
	}
	for _, want := range []string{"$19.99", "pi_test123", "re_test456", "duplicate charge"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("Text %q missing %q", msg.Text, want)
		}
	}
	fields := map[string]string{}
	for _, f := range msg.Fields {
		fields[f.Label] = f.Value
	}
	if fields["Refund ID"] != "re_test456" {
		t.Errorf("Refund ID field = %q", fields["Refund ID"])
	}
	if fields["Amount"] != "$19.99" {
		t.Errorf("Amount field = %q", fields["Amount"])
	}
	if fields["Status"] != "Succeeded" {
		t.Errorf("Status field = %q", fields["Status"])
	}
	if msg.ChannelNotice != "Refund of $19.99 processed" {
		t.Errorf("ChannelNotice = %q", msg.ChannelNotice)
	}
}

func TestRender_CurrencySuffix(t *testing.T) {
	r := receipt.NewRenderer("$")
	req := model.RefundRequest{PaymentIntentID: "pi_1", AmountMinor: 500, Reason: "late delivery"}
	res := model.RefundResult{Status: model.RefundSucceeded, RefundID: "re_1", Currency: "usd"}

	msg := r.Render(req, res)
	if !strings.Contains(msg.Text, "$5.00 USD") {
		t.Errorf("expected amount with currency code, got %q", msg.Text)
	}
}

func TestRender_Failed(t *testing.T) {
	r := receipt.NewRenderer("$")
	req := model.RefundRequest{PaymentIntentID: "pi_1", AmountMinor: 500, Reason: "late delivery"}
	res := model.RefundResult{
		Status:        model.RefundFailed,
		FailureReason: "Amount exceeds the captured amount.",
		ErrorCode:     model.CodeInvalidRequest,
	}

	msg := r.Render(req, res)
	if msg.Kind != model.MessageFailure {
		t.Fatalf("Kind = %q, want failure", msg.Kind)
	}
	if !strings.Contains(msg.Text, "Amount exceeds the captured amount.") {
		t.Errorf("expected processor reason in text, got %q", msg.Text)
	}
	if msg.Footer != "" {
		t.Errorf("non-retryable failure should not carry a retry footer, got %q", msg.Footer)
	}
	if msg.ChannelNotice != "" {
		t.Error("failures must not be announced in the channel")
	}
}

func TestRender_TimedOutCarriesRetryNotice(t *testing.T) {
	r := receipt.NewRenderer("$")
	res := model.RefundResult{
		Status:        model.RefundFailed,
		FailureReason: "The payment processor did not respond in time.",
		ErrorCode:     model.CodeTransientNetwork,
		TimedOut:      true,
	}

	msg := r.Render(model.RefundRequest{PaymentIntentID: "pi_1", AmountMinor: 1}, res)
	if msg.Footer == "" {
		t.Error("expected retry notice for timed out refund")
	}
}

func TestRenderReceipt_ChargeRefund(t *testing.T) {
	r := receipt.NewRenderer("$")
	rc := model.Receipt{
		ChargeID:    "ch_abc",
		AmountMinor: 2500,
		Currency:    "usd",
		Reason:      "Requested by customer",
		RefundID:    "re_9",
		Status:      "succeeded",
		RequestedBy: "U42",
		CreatedUnix: 1700000000,
	}

	msg := r.RenderReceipt(rc)

	fields := map[string]string{}
	for _, f := range msg.Fields {
		fields[f.Label] = f.Value
	}
	if fields["Original Charge"] != "ch_abc" {
		t.Errorf("Original Charge field = %q", fields["Original Charge"])
	}
	if _, ok := fields["Payment Intent"]; ok {
		t.Error("charge receipts should not carry a Payment Intent field")
	}
	if fields["Requested By"] != "<@U42>" {
		t.Errorf("Requested By field = %q", fields["Requested By"])
	}
	if fields["Timestamp"] != "<!date^1700000000^{date_short} {time}|1700000000>" {
		t.Errorf("Timestamp field = %q", fields["Timestamp"])
	}
	if !strings.Contains(msg.Text, "ch_abc") {
		t.Errorf("Text %q missing charge id", msg.Text)
	}
}

func TestRenderReceipt_OmitsUnknownRequesterAndTime(t *testing.T) {
	msg := receipt.NewRenderer("$").RenderReceipt(model.Receipt{PaymentIntentID: "pi_1", RefundID: "re_1", AmountMinor: 100})
	for _, f := range msg.Fields {
		if f.Label == "Requested By" || f.Label == "Timestamp" {
			t.Errorf("unexpected field %q", f.Label)
		}
	}
}
