// Package answer provides AnswerProvider implementations.
package answer

import (
	"context"

	"github.com/jonny/refundbot/internal/domain/port/outbound"
)

const DefaultText = "Automated answers are not yet available. A member of the support team will review your question and follow up with you shortly."

// Static answers every question with the same text.
type Static struct {
	text string
}

// NewStatic creates a Static provider. An empty text uses DefaultText.
func NewStatic(text string) *Static {
	if text == "" {
		text = DefaultText
	}
	return &Static{text: text}
}

var _ outbound.AnswerProvider = (*Static)(nil)

func (s *Static) Answer(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.text, nil
}
