package model

import "time"

type Stage string

// PROCESSING marks a submission that has been claimed and is still running.
const (
	StageMenu                Stage = "MENU"
	StageAwaitingQuestion    Stage = "AWAITING_QUESTION"
	StageAwaitingRefundInput Stage = "AWAITING_REFUND_INPUT"
	StageProcessing          Stage = "PROCESSING"
	StageCompleted           Stage = "COMPLETED"
	StageFailed              Stage = "FAILED"
)

// Terminal reports whether the stage ends the interaction.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// InteractionContext is the state of one in-flight dialog. It lives only in the
// dialog store and is evicted once the dialog reaches a terminal stage.
type InteractionContext struct {
	InteractionID string    `json:"interaction_id"`
	UserID        string    `json:"user_id"`
	ChannelID     string    `json:"channel_id"`
	Stage         Stage     `json:"stage"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewInteractionContext(meta EventMeta, stage Stage) InteractionContext {
	now := time.Now().UTC()
	return InteractionContext{
		InteractionID: meta.InteractionID,
		UserID:        meta.UserID,
		ChannelID:     meta.ChannelID,
		Stage:         stage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (c InteractionContext) WithStage(stage Stage) InteractionContext {
	c.Stage = stage
	c.UpdatedAt = time.Now().UTC()
	return c
}
