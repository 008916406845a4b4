package outbound

import "context"

// AnswerProvider answers free-form support questions.
type AnswerProvider interface {
	Answer(ctx context.Context, question string) (string, error)
}
