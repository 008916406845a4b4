package slackbot

import (
	"context"
	"log/slog"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Config holds Slack bot configuration.
type Config struct {
	BotToken string
	AppToken string
}

// Bot handles incoming Slack events via Socket Mode.
type Bot struct {
	socketMode *socketmode.Client
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewBot creates a new Bot with Socket Mode enabled.
func NewBot(cfg Config, dispatcher *Dispatcher, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	client := slackapi.New(cfg.BotToken, slackapi.OptionAppLevelToken(cfg.AppToken))
	return &Bot{
		socketMode: socketmode.New(client),
		dispatcher: dispatcher,
		logger:     logger.With("component", "slack-bot"),
	}
}

// Start begins processing Slack events. It blocks until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	go b.handleEvents(ctx)
	return b.socketMode.RunContext(ctx)
}

// handleEvents dispatches incoming Socket Mode events. Each event runs in its
// own goroutine so a slow refund never holds up other users.
func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketMode.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				go b.handleEventsAPI(ctx, evt)
			case socketmode.EventTypeInteractive:
				go b.handleInteraction(ctx, evt)
			case socketmode.EventTypeSlashCommand:
				go b.handleSlashCommand(ctx, evt)
			case socketmode.EventTypeConnecting, socketmode.EventTypeConnected:
				b.logger.Info("socket mode", "state", evt.Type)
			case socketmode.EventTypeConnectionError:
				b.logger.Warn("socket mode connection error", "data", evt.Data)
			default:
				b.ack(evt, nil)
			}
		}
	}
}

// handleEventsAPI processes Slack Events API payloads (e.g. message events).
func (b *Bot) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	b.ack(evt, nil)

	eventsPayload, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	switch ev := eventsPayload.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		b.dispatcher.HandleMessage(ctx, ev)
	}
}

// handleInteraction processes button clicks and modal submissions. The
// acknowledgement carries the view submission response, if any.
func (b *Bot) handleInteraction(ctx context.Context, evt socketmode.Event) {
	callback, ok := evt.Data.(slackapi.InteractionCallback)
	if !ok {
		b.ack(evt, nil)
		return
	}
	b.ack(evt, b.dispatcher.HandleInteraction(ctx, callback))
}

// handleSlashCommand acknowledges a slash command with its ephemeral response.
func (b *Bot) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slackapi.SlashCommand)
	if !ok {
		b.ack(evt, nil)
		return
	}
	b.ack(evt, b.dispatcher.HandleSlashCommand(ctx, cmd))
}

func (b *Bot) ack(evt socketmode.Event, payload any) {
	if evt.Request == nil {
		return
	}
	if payload == nil {
		b.socketMode.Ack(*evt.Request)
		return
	}
	b.socketMode.Ack(*evt.Request, payload)
}
