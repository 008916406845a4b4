package template

import (
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/refundbot/internal/domain/model"
)

// Slack caps a section block at ten fields.
const maxSectionFields = 10

// kindEmoji maps a message kind to its leading emoji.
func kindEmoji(kind model.MessageKind) string {
	switch kind {
	case model.MessageReceipt:
		return ":white_check_mark:"
	case model.MessageFailure:
		return ":x:"
	case model.MessageAnswer:
		return ":speech_balloon:"
	case model.MessageStale:
		return ":hourglass:"
	default:
		return ":information_source:"
	}
}

// BuildMessageBlocks constructs Block Kit blocks for a message payload. A
// payload without a title renders as a single section holding its text.
func BuildMessageBlocks(msg model.MessagePayload) []slackapi.Block {
	if msg.Title == "" {
		return []slackapi.Block{markdownSection(fmt.Sprintf("%s %s", kindEmoji(msg.Kind), msg.Text))}
	}

	blocks := []slackapi.Block{
		markdownSection(fmt.Sprintf("%s *%s*", kindEmoji(msg.Kind), msg.Title)),
	}

	if len(msg.Fields) > 0 {
		fields := make([]*slackapi.TextBlockObject, 0, len(msg.Fields))
		for i, f := range msg.Fields {
			if i == maxSectionFields {
				break
			}
			fields = append(fields, slackapi.NewTextBlockObject(slackapi.MarkdownType,
				fmt.Sprintf("*%s:*\n%s", f.Label, f.Value), false, false))
		}
		blocks = append(blocks, slackapi.NewSectionBlock(nil, fields, nil))
	}

	if msg.Body != "" {
		blocks = append(blocks, markdownSection(msg.Body))
	}

	if msg.Footer != "" {
		blocks = append(blocks, slackapi.NewContextBlock("",
			slackapi.NewTextBlockObject(slackapi.MarkdownType, msg.Footer, false, false),
		))
	}

	return blocks
}

// BuildChannelNotice constructs the short public note posted in the channel
// the dialog started from.
func BuildChannelNotice(notice, userID string) (string, []slackapi.Block) {
	text := fmt.Sprintf("%s for <@%s>", notice, userID)
	return text, []slackapi.Block{markdownSection(":white_check_mark: " + text)}
}

func markdownSection(text string) *slackapi.SectionBlock {
	return slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false),
		nil, nil,
	)
}
