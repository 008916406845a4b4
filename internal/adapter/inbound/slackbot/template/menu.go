package template

import (
	slackapi "github.com/slack-go/slack"

	"github.com/jonny/refundbot/internal/domain/model"
)

const (
	// BlockIDMenu identifies the actions block of the support menu.
	BlockIDMenu = "support_menu"
)

// IsMenuAction reports whether actionID belongs to a support menu button.
func IsMenuAction(actionID string) bool {
	return actionID == model.ActionAskQuestion || actionID == model.ActionRequestRefund
}

// BuildMenuBlocks constructs the greeting and buttons for a support menu.
// Every button carries the menu's interaction ID as its value so later clicks
// resolve to the same dialog.
func BuildMenuBlocks(menu model.MenuPayload) []slackapi.Block {
	greeting := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType, ":wave: "+menu.Greeting, false, false),
		nil, nil,
	)

	buttons := make([]slackapi.BlockElement, 0, len(menu.Actions))
	for _, a := range menu.Actions {
		btn := slackapi.NewButtonBlockElement(
			a.ActionID,
			menu.InteractionID,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, a.Label, false, false),
		)
		btn.Style = buttonStyle(a.Style)
		buttons = append(buttons, btn)
	}

	return []slackapi.Block{greeting, slackapi.NewActionBlock(BlockIDMenu, buttons...)}
}

func buttonStyle(s model.ButtonStyle) slackapi.Style {
	switch s {
	case model.ButtonPrimary:
		return slackapi.StylePrimary
	case model.ButtonDanger:
		return slackapi.StyleDanger
	default:
		return slackapi.StyleDefault
	}
}
