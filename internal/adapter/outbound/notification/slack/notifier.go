package slack

import (
	"context"
	"fmt"
	"log/slog"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/refundbot/internal/adapter/inbound/slackbot/template"
	"github.com/jonny/refundbot/internal/domain/model"
)

// Config holds Slack notifier configuration.
type Config struct {
	BotToken string
	// APIURL overrides the Slack Web API base URL; it must end with a slash.
	APIURL string
	// PostToChannel enables the public refund notice in the originating channel.
	PostToChannel bool
}

// Notifier delivers dialog output through the Slack Web API.
type Notifier struct {
	client *slackapi.Client
	config Config
	logger *slog.Logger
}

// NewNotifier creates a new Slack Notifier.
func NewNotifier(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []slackapi.Option
	if cfg.APIURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(cfg.APIURL))
	}
	return &Notifier{
		client: slackapi.New(cfg.BotToken, opts...),
		config: cfg,
		logger: logger.With("component", "slack-notifier"),
	}
}

// OpenForm opens a modal for form using a fresh trigger ID.
func (n *Notifier) OpenForm(ctx context.Context, triggerID string, form model.FormPayload, meta template.ModalMetadata) error {
	if _, err := n.client.OpenViewContext(ctx, triggerID, template.BuildModal(form, meta)); err != nil {
		return fmt.Errorf("slack OpenForm: %w", err)
	}
	return nil
}

// UpdateView replaces the content of an open modal.
func (n *Notifier) UpdateView(ctx context.Context, viewID string, view slackapi.ModalViewRequest) error {
	if _, err := n.client.UpdateViewContext(ctx, view, "", "", viewID); err != nil {
		return fmt.Errorf("slack UpdateView: %w", err)
	}
	return nil
}

// SendEphemeral posts a message in channelID visible only to userID.
func (n *Notifier) SendEphemeral(ctx context.Context, channelID, userID string, msg model.MessagePayload) error {
	_, err := n.client.PostEphemeralContext(ctx, channelID, userID,
		slackapi.MsgOptionBlocks(template.BuildMessageBlocks(msg)...),
		slackapi.MsgOptionText(msg.Text, false),
	)
	if err != nil {
		return fmt.Errorf("slack SendEphemeral: %w", err)
	}
	return nil
}

// SendDirect posts a message to the requester's direct message channel with
// the app. When the message carries a channel notice and channel posting is
// enabled, a short public note follows in channelID. A failed notice is logged
// and does not fail the delivery.
func (n *Notifier) SendDirect(ctx context.Context, userID, channelID string, msg model.MessagePayload) error {
	_, _, err := n.client.PostMessageContext(ctx, userID,
		slackapi.MsgOptionBlocks(template.BuildMessageBlocks(msg)...),
		slackapi.MsgOptionText(msg.Text, false),
	)
	if err != nil {
		return fmt.Errorf("slack SendDirect: %w", err)
	}

	if !n.config.PostToChannel || msg.ChannelNotice == "" || channelID == "" {
		return nil
	}
	text, blocks := template.BuildChannelNotice(msg.ChannelNotice, userID)
	if _, _, err := n.client.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionBlocks(blocks...),
		slackapi.MsgOptionText(text, false),
	); err != nil {
		n.logger.Warn("failed to post channel notice", "channel", channelID, "error", err)
	}
	return nil
}

// Respond replaces the ephemeral acknowledgement of a slash command through its
// response URL.
func (n *Notifier) Respond(ctx context.Context, responseURL string, msg model.MessagePayload) error {
	if responseURL == "" {
		return fmt.Errorf("slack Respond: empty response url")
	}
	err := slackapi.PostWebhookContext(ctx, responseURL, &slackapi.WebhookMessage{
		ResponseType:    slackapi.ResponseTypeEphemeral,
		ReplaceOriginal: true,
		Text:            msg.Text,
		Blocks:          &slackapi.Blocks{BlockSet: template.BuildMessageBlocks(msg)},
	})
	if err != nil {
		return fmt.Errorf("slack Respond: %w", err)
	}
	return nil
}

// Reply posts a plain message in a channel, threaded when threadTS is set.
func (n *Notifier) Reply(ctx context.Context, channelID, threadTS, text string) error {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slackapi.MsgOptionTS(threadTS))
	}
	if _, _, err := n.client.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("slack Reply: %w", err)
	}
	return nil
}
