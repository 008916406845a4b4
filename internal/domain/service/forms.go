package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonny/refundbot/internal/domain/model"
)

const MaxReasonLength = 500

var validate = validator.New(validator.WithRequiredStructEnabled())

// structFields maps RefundRequest struct fields to form field names.
var structFields = map[string]string{
	"PaymentIntentID": model.FieldPaymentIntentID,
	"AmountMinor":     model.FieldAmount,
	"Reason":          model.FieldReason,
}

// RefundForm describes the three-field refund form.
func RefundForm(interactionID string) model.FormPayload {
	return model.FormPayload{
		InteractionID: interactionID,
		FormID:        model.FormRefund,
		Title:         "Request Refund",
		SubmitLabel:   "Process Refund",
		Fields: []model.FormField{
			{Name: model.FieldPaymentIntentID, Label: "Payment Intent ID", Placeholder: "pi_1234567890abcdef", MaxLength: 255},
			{Name: model.FieldAmount, Label: "Refund Amount (in cents)", Placeholder: "e.g., 1999 (for $19.99)", MaxLength: 18},
			{Name: model.FieldReason, Label: "Refund Reason", Placeholder: "Please explain the reason for the refund...", Multiline: true, MaxLength: MaxReasonLength},
		},
	}
}

// QuestionForm describes the single-field support question form.
func QuestionForm(interactionID string) model.FormPayload {
	return model.FormPayload{
		InteractionID: interactionID,
		FormID:        model.FormQuestion,
		Title:         "Ask Support",
		SubmitLabel:   "Submit",
		Fields: []model.FormField{
			{Name: model.FieldQuestion, Label: "Your Question", Placeholder: "Enter your support question here...", Multiline: true, MaxLength: 3000},
		},
	}
}

// ParseRefundForm turns raw form values into a RefundRequest. All problems are
// reported together, one message per field.
func ParseRefundForm(values map[string]string) (model.RefundRequest, *model.ValidationError) {
	verr := model.NewValidationError()

	req := model.RefundRequest{
		PaymentIntentID: strings.TrimSpace(values[model.FieldPaymentIntentID]),
		Reason:          strings.TrimSpace(values[model.FieldReason]),
	}

	rawAmount := strings.TrimSpace(values[model.FieldAmount])
	if rawAmount == "" {
		verr.Add(model.FieldAmount, "Enter the refund amount in cents.")
	} else if amount, err := strconv.ParseInt(rawAmount, 10, 64); err != nil {
		verr.Add(model.FieldAmount, "Amount must be a whole number of cents, e.g. 1999 for $19.99.")
	} else {
		req.AmountMinor = amount
	}

	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			verr.Add(model.FieldPaymentIntentID, "The form could not be validated.")
			return req, verr
		}
		for _, fe := range fieldErrs {
			name, ok := structFields[fe.StructField()]
			if !ok {
				continue
			}
			verr.Add(name, fieldMessage(name, fe))
		}
	}

	if !verr.Empty() {
		return req, verr
	}
	return req, nil
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch field {
	case model.FieldPaymentIntentID:
		if fe.Tag() == "max" {
			return "Payment intent ID is too long."
		}
		return "Payment intent ID is required."
	case model.FieldAmount:
		return "Amount must be greater than zero."
	case model.FieldReason:
		if fe.Tag() == "max" {
			return fmt.Sprintf("Reason must be at most %d characters.", MaxReasonLength)
		}
		return "Please provide a reason for the refund."
	}
	return "Invalid value."
}
