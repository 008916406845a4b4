package model

const (
	ActionAskQuestion   = "ask_question"
	ActionRequestRefund = "request_refund"
)

// Form field names shared by the orchestrator and the platform adapter.
const (
	FieldPaymentIntentID = "payment_intent_id"
	FieldAmount          = "amount"
	FieldReason          = "reason"
	FieldQuestion        = "question"
)

type EventKind string

const (
	EventSlashCommand EventKind = "slash_command"
	EventButtonClick  EventKind = "button_click"
	EventModalSubmit  EventKind = "modal_submit"
)

// EventMeta identifies the interaction, requester and destination of an event.
type EventMeta struct {
	InteractionID string
	UserID        string
	ChannelID     string
}

// Event is an inbound platform event. The set of implementations is closed:
// SlashCommand, ButtonClick and ModalSubmit.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
}

type SlashCommand struct {
	EventMeta
	Command string
	Text    string
}

type ButtonClick struct {
	EventMeta
	ActionID string
}

type ModalSubmit struct {
	EventMeta
	FormValues map[string]string
}

func (SlashCommand) Kind() EventKind { return EventSlashCommand }
func (ButtonClick) Kind() EventKind  { return EventButtonClick }
func (ModalSubmit) Kind() EventKind  { return EventModalSubmit }

func (e SlashCommand) Meta() EventMeta { return e.EventMeta }
func (e ButtonClick) Meta() EventMeta  { return e.EventMeta }
func (e ModalSubmit) Meta() EventMeta  { return e.EventMeta }
