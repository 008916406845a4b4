package template

import (
	"encoding/json"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/refundbot/internal/domain/model"
)

// ModalMetadata is carried in a modal's private_metadata so the submission can
// be tied back to its dialog and originating channel.
type ModalMetadata struct {
	InteractionID string `json:"interaction_id"`
	ChannelID     string `json:"channel_id,omitempty"`
}

// Encode serializes the metadata for private_metadata.
func (m ModalMetadata) Encode() string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeModalMetadata parses private_metadata written by Encode.
func DecodeModalMetadata(s string) (ModalMetadata, error) {
	var m ModalMetadata
	if s == "" {
		return m, fmt.Errorf("empty private metadata")
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return m, fmt.Errorf("decoding private metadata: %w", err)
	}
	return m, nil
}

// BuildModal constructs a modal for a form. Field names are used as both
// block_id and action_id. Field errors, if any, are rendered inline below the
// matching input.
func BuildModal(form model.FormPayload, meta ModalMetadata) slackapi.ModalViewRequest {
	blocks := make([]slackapi.Block, 0, len(form.Fields)*2)
	for _, f := range form.Fields {
		var placeholder *slackapi.TextBlockObject
		if f.Placeholder != "" {
			placeholder = slackapi.NewTextBlockObject(slackapi.PlainTextType, f.Placeholder, false, false)
		}
		input := slackapi.NewPlainTextInputBlockElement(placeholder, f.Name)
		input.Multiline = f.Multiline
		input.MaxLength = f.MaxLength

		block := slackapi.NewInputBlock(
			f.Name,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, f.Label, false, false),
			nil,
			input,
		)
		// Validation runs server side so every problem is reported together.
		block.Optional = true
		blocks = append(blocks, block)

		if msg, ok := form.Errors[f.Name]; ok {
			blocks = append(blocks, slackapi.NewContextBlock(
				"",
				slackapi.NewTextBlockObject(slackapi.MarkdownType, ":warning: "+msg, false, false),
			))
		}
	}

	return slackapi.ModalViewRequest{
		Type:            slackapi.VTModal,
		CallbackID:      string(form.FormID),
		Title:           plain(form.Title),
		Submit:          plain(form.SubmitLabel),
		Close:           plain("Cancel"),
		Blocks:          slackapi.Blocks{BlockSet: blocks},
		PrivateMetadata: meta.Encode(),
	}
}

// FieldErrors returns form errors keyed by block_id for a view_submission
// errors response.
func FieldErrors(form model.FormPayload) map[string]string {
	errs := make(map[string]string, len(form.Errors))
	for name, msg := range form.Errors {
		errs[name] = msg
	}
	return errs
}

// ExtractValues flattens submitted view state into field name -> value.
func ExtractValues(state *slackapi.ViewState) map[string]string {
	values := make(map[string]string)
	if state == nil {
		return values
	}
	for blockID, actions := range state.Values {
		if action, ok := actions[blockID]; ok {
			values[blockID] = action.Value
			continue
		}
		for actionID, action := range actions {
			values[actionID] = action.Value
		}
	}
	return values
}

// BuildProcessingView replaces a submitted modal while the refund is still running.
func BuildProcessingView(title string) slackapi.ModalViewRequest {
	return slackapi.ModalViewRequest{
		Type:  slackapi.VTModal,
		Title: plain(title),
		Close: plain("Close"),
		Blocks: slackapi.Blocks{BlockSet: []slackapi.Block{
			slackapi.NewSectionBlock(
				slackapi.NewTextBlockObject(slackapi.MarkdownType,
					":hourglass_flowing_sand: Processing refund... The result will be sent to you in a direct message.", false, false),
				nil, nil,
			),
		}},
	}
}

// BuildResultView shows a final message inside a modal that was left in the
// processing state.
func BuildResultView(title string, msg model.MessagePayload) slackapi.ModalViewRequest {
	return slackapi.ModalViewRequest{
		Type:   slackapi.VTModal,
		Title:  plain(title),
		Close:  plain("Close"),
		Blocks: slackapi.Blocks{BlockSet: BuildMessageBlocks(msg)},
	}
}

func plain(text string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.PlainTextType, text, false, false)
}
