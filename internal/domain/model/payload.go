package model

type PayloadKind string

const (
	PayloadMenu    PayloadKind = "menu"
	PayloadForm    PayloadKind = "form"
	PayloadMessage PayloadKind = "message"
)

// Payload is an outbound UI description handed back to the platform adapter.
// Implementations: MenuPayload, FormPayload, MessagePayload.
type Payload interface {
	PayloadKind() PayloadKind
}

type ButtonStyle string

const (
	ButtonDefault ButtonStyle = ""
	ButtonPrimary ButtonStyle = "primary"
	ButtonDanger  ButtonStyle = "danger"
)

type MenuAction struct {
	ActionID string
	Label    string
	Style    ButtonStyle
}

type MenuPayload struct {
	InteractionID string
	Greeting      string
	Actions       []MenuAction
}

type FormID string

const (
	FormRefund   FormID = "refund_form"
	FormQuestion FormID = "question_form"
)

type FormField struct {
	Name        string
	Label       string
	Placeholder string
	Multiline   bool
	MaxLength   int
}

// FormPayload asks the adapter to show (or re-show) a form. Errors maps field
// names to user-facing messages and is empty when the form is first opened.
type FormPayload struct {
	InteractionID string
	FormID        FormID
	Title         string
	SubmitLabel   string
	Fields        []FormField
	Errors        map[string]string
}

// HasErrors reports whether the form is being re-shown after a validation failure.
func (p FormPayload) HasErrors() bool { return len(p.Errors) > 0 }

type MessageKind string

const (
	MessageReceipt MessageKind = "receipt"
	MessageFailure MessageKind = "failure"
	MessageAnswer  MessageKind = "answer"
	MessageStale   MessageKind = "stale"
	MessageInfo    MessageKind = "info"
)

type MessageField struct {
	Label string
	Value string
}

// MessagePayload is a message for the requester. Text is always set and is the
// plain fallback; Title, Fields, Body and Footer are optional structure.
type MessagePayload struct {
	Kind   MessageKind
	Text   string
	Title  string
	Fields []MessageField
	Body   string
	Footer string
	// ChannelNotice, when set, is a short public note for the originating channel.
	ChannelNotice string
}

func (MenuPayload) PayloadKind() PayloadKind    { return PayloadMenu }
func (FormPayload) PayloadKind() PayloadKind    { return PayloadForm }
func (MessagePayload) PayloadKind() PayloadKind { return PayloadMessage }
