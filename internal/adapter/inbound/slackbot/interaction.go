package slackbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/jonny/refundbot/internal/adapter/inbound/slackbot/template"
	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/inbound"
	"github.com/jonny/refundbot/internal/observability"
)

// DefaultAckBudget leaves headroom under Slack's three second acknowledgement limit.
const DefaultAckBudget = 2500 * time.Millisecond

const (
	processingText = ":hourglass_flowing_sand: Processing your request..."
	shutdownText   = "The bot is restarting. Please try again in a moment."
)

// Notifier delivers dialog output back to Slack.
type Notifier interface {
	OpenForm(ctx context.Context, triggerID string, form model.FormPayload, meta template.ModalMetadata) error
	UpdateView(ctx context.Context, viewID string, view slackapi.ModalViewRequest) error
	SendEphemeral(ctx context.Context, channelID, userID string, msg model.MessagePayload) error
	SendDirect(ctx context.Context, userID, channelID string, msg model.MessagePayload) error
	Respond(ctx context.Context, responseURL string, msg model.MessagePayload) error
	Reply(ctx context.Context, channelID, threadTS, text string) error
}

// DispatcherConfig controls how Slack payloads are handled.
type DispatcherConfig struct {
	// Accepts filters slash commands; nil accepts every command.
	Accepts   func(command string) bool
	AckBudget time.Duration
}

// Dispatcher translates Slack payloads into domain events and delivers the
// resulting payloads. It is shared by Socket Mode and the HTTP endpoints.
type Dispatcher struct {
	events   inbound.EventHandler
	notifier Notifier
	config   DispatcherConfig
	metrics  *observability.Metrics
	logger   *slog.Logger

	// pending tracks work that outlives the acknowledgement. Nothing is added
	// once closed is set.
	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(events inbound.EventHandler, notifier Notifier, cfg DispatcherConfig, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.AckBudget <= 0 {
		cfg.AckBudget = DefaultAckBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		events:   events,
		notifier: notifier,
		config:   cfg,
		metrics:  metrics,
		logger:   logger.With("component", "slack-dispatcher"),
	}
}

// Wait stops the dispatcher from accepting new work and blocks until every
// background delivery has finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.pending.Wait()
}

// begin reserves a pending slot. It reports false after Wait was called; the
// caller owns the slot otherwise and must release it with pending.Done.
func (d *Dispatcher) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.pending.Add(1)
	return true
}

// HandleSlashCommand handles a slash command and returns the ephemeral
// response to acknowledge it with. The command's trigger ID becomes the
// interaction ID of the new dialog. A command still running when the ack
// budget expires is acknowledged with a processing note and its result
// replaces that note through the response URL.
func (d *Dispatcher) HandleSlashCommand(ctx context.Context, cmd slackapi.SlashCommand) *slackapi.Msg {
	if d.config.Accepts != nil && !d.config.Accepts(cmd.Command) {
		sanitized := cmd.Command
		if len(sanitized) > 100 {
			sanitized = sanitized[:100]
		}
		sanitized = strings.ReplaceAll(sanitized, "`", "'")
		return &slackapi.Msg{
			ResponseType: slackapi.ResponseTypeEphemeral,
			Text:         fmt.Sprintf(":question: Unknown command `%s`.", sanitized),
		}
	}

	ev := model.SlashCommand{
		EventMeta: model.EventMeta{
			InteractionID: cmd.TriggerID,
			UserID:        cmd.UserID,
			ChannelID:     cmd.ChannelID,
		},
		Command: cmd.Command,
		Text:    cmd.Text,
	}

	if !d.begin() {
		d.logger.Warn("refusing slash command during shutdown", "command", cmd.Command, "user", cmd.UserID)
		return &slackapi.Msg{ResponseType: slackapi.ResponseTypeEphemeral, Text: shutdownText}
	}

	work := context.WithoutCancel(ctx)
	done := make(chan model.Payload, 1)
	go func() {
		done <- d.dispatch(work, ev)
	}()

	timer := time.NewTimer(d.config.AckBudget)
	defer timer.Stop()

	select {
	case p := <-done:
		d.pending.Done()
		return commandResponse(p)
	case <-timer.C:
		d.logger.Info("slash command exceeded ack budget, deferring result",
			"interaction_id", ev.InteractionID,
			"command", cmd.Command,
		)
		go d.respondLate(work, ev.EventMeta, cmd.ResponseURL, done)
		return &slackapi.Msg{ResponseType: slackapi.ResponseTypeEphemeral, Text: processingText}
	}
}

// respondLate replaces the processing note with the command's result. Messages
// fall back to a direct message when the response URL is unusable.
func (d *Dispatcher) respondLate(ctx context.Context, meta model.EventMeta, responseURL string, done <-chan model.Payload) {
	defer d.pending.Done()

	msg, ok := (<-done).(model.MessagePayload)
	if !ok {
		d.logger.Warn("late slash command result is not a message; dropped", "interaction_id", meta.InteractionID)
		return
	}
	if err := d.notifier.Respond(ctx, responseURL, msg); err != nil {
		d.logger.Warn("failed to respond via response url, sending directly",
			"interaction_id", meta.InteractionID,
			"error", err,
		)
		d.sendDirect(ctx, meta, msg)
	}
}

func commandResponse(payload model.Payload) *slackapi.Msg {
	switch p := payload.(type) {
	case model.MenuPayload:
		return &slackapi.Msg{
			ResponseType: slackapi.ResponseTypeEphemeral,
			Text:         p.Greeting,
			Blocks:       slackapi.Blocks{BlockSet: template.BuildMenuBlocks(p)},
		}
	case model.MessagePayload:
		return messageResponse(p)
	default:
		return &slackapi.Msg{ResponseType: slackapi.ResponseTypeEphemeral}
	}
}

// HandleInteraction handles block actions and view submissions. The returned
// value is the acknowledgement body; nil acknowledges with an empty body.
func (d *Dispatcher) HandleInteraction(ctx context.Context, cb slackapi.InteractionCallback) any {
	switch cb.Type {
	case slackapi.InteractionTypeBlockActions:
		d.handleBlockActions(ctx, cb)
		return nil
	case slackapi.InteractionTypeViewSubmission:
		if resp := d.handleViewSubmission(ctx, cb); resp != nil {
			return resp
		}
		return nil
	default:
		d.logger.Debug("ignoring interaction", "type", cb.Type)
		return nil
	}
}

// HandleMessage answers greetings in channels the app is a member of.
func (d *Dispatcher) HandleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages to prevent loops.
	if ev.BotID != "" || ev.SubType == "bot_message" || ev.User == "" {
		return
	}
	if !strings.Contains(strings.ToLower(ev.Text), "hello") {
		return
	}

	d.count("message", "greeting")
	text := fmt.Sprintf("Hey there <@%s>! :wave:", ev.User)
	if err := d.notifier.Reply(ctx, ev.Channel, ev.ThreadTimeStamp, text); err != nil {
		d.logger.Error("failed to reply to greeting", "channel", ev.Channel, "error", err)
	}
}

func (d *Dispatcher) handleBlockActions(ctx context.Context, cb slackapi.InteractionCallback) {
	if !d.begin() {
		d.logger.Warn("ignoring block actions during shutdown", "user", cb.User.ID)
		return
	}
	defer d.pending.Done()

	for _, action := range cb.ActionCallback.BlockActions {
		if !template.IsMenuAction(action.ActionID) {
			continue
		}

		ev := model.ButtonClick{
			EventMeta: model.EventMeta{
				InteractionID: action.Value,
				UserID:        cb.User.ID,
				ChannelID:     channelOf(cb),
			},
			ActionID: action.ActionID,
		}

		switch p := d.dispatch(ctx, ev).(type) {
		case model.FormPayload:
			meta := template.ModalMetadata{InteractionID: p.InteractionID, ChannelID: ev.ChannelID}
			if err := d.notifier.OpenForm(ctx, cb.TriggerID, p, meta); err != nil {
				d.logger.Error("failed to open form",
					"interaction_id", ev.InteractionID,
					"form", p.FormID,
					"error", err,
				)
			}
		case model.MessagePayload:
			d.sendEphemeral(ctx, ev.EventMeta, p)
		}
	}
}

// handleViewSubmission waits up to the ack budget for the dialog to finish.
// A slower dialog gets a processing view now and its result is delivered
// when ready.
func (d *Dispatcher) handleViewSubmission(ctx context.Context, cb slackapi.InteractionCallback) *slackapi.ViewSubmissionResponse {
	meta, err := template.DecodeModalMetadata(cb.View.PrivateMetadata)
	if err != nil {
		// An empty interaction ID resolves to a stale dialog downstream.
		d.logger.Warn("view submission without usable metadata", "view_id", cb.View.ID, "error", err)
	}

	ev := model.ModalSubmit{
		EventMeta: model.EventMeta{
			InteractionID: meta.InteractionID,
			UserID:        cb.User.ID,
			ChannelID:     meta.ChannelID,
		},
		FormValues: template.ExtractValues(cb.View.State),
	}
	title := "Support"
	if cb.View.Title != nil && cb.View.Title.Text != "" {
		title = cb.View.Title.Text
	}

	if !d.begin() {
		d.logger.Warn("refusing submission during shutdown", "interaction_id", ev.InteractionID)
		view := template.BuildResultView(title, model.MessagePayload{Kind: model.MessageInfo, Text: shutdownText})
		return slackapi.NewUpdateViewSubmissionResponse(&view)
	}

	// The dialog must finish even if the acknowledgement path gives up on it.
	// The pending slot passes to submissionResponse or deliverLate.
	work := context.WithoutCancel(ctx)
	done := make(chan model.Payload, 1)
	go func() {
		done <- d.dispatch(work, ev)
	}()

	timer := time.NewTimer(d.config.AckBudget)
	defer timer.Stop()

	select {
	case p := <-done:
		return d.submissionResponse(work, ev, meta, p)
	case <-timer.C:
		d.logger.Info("submission exceeded ack budget, deferring result",
			"interaction_id", ev.InteractionID,
			"budget", d.config.AckBudget,
		)
		go d.deliverLate(work, ev, meta, cb.View.ID, title, done)
		processing := template.BuildProcessingView(title)
		return slackapi.NewUpdateViewSubmissionResponse(&processing)
	}
}

// submissionResponse converts an in-budget result into the acknowledgement.
// Messages are delivered in the background and the modal is closed. It
// releases the submission's pending slot.
func (d *Dispatcher) submissionResponse(ctx context.Context, ev model.ModalSubmit, meta template.ModalMetadata, payload model.Payload) *slackapi.ViewSubmissionResponse {
	if p, ok := payload.(model.MessagePayload); ok {
		go func() {
			defer d.pending.Done()
			d.sendDirect(ctx, ev.EventMeta, p)
		}()
		return nil
	}

	d.pending.Done()
	p, ok := payload.(model.FormPayload)
	if !ok {
		return nil
	}
	if p.HasErrors() {
		return slackapi.NewErrorsViewSubmissionResponse(template.FieldErrors(p))
	}
	view := template.BuildModal(p, meta)
	return slackapi.NewUpdateViewSubmissionResponse(&view)
}

func (d *Dispatcher) deliverLate(ctx context.Context, ev model.ModalSubmit, meta template.ModalMetadata, viewID, title string, done <-chan model.Payload) {
	defer d.pending.Done()

	var view slackapi.ModalViewRequest
	switch p := (<-done).(type) {
	case model.FormPayload:
		view = template.BuildModal(p, meta)
	case model.MessagePayload:
		d.sendDirect(ctx, ev.EventMeta, p)
		view = template.BuildResultView(title, p)
	default:
		return
	}

	if viewID == "" {
		return
	}
	if err := d.notifier.UpdateView(ctx, viewID, view); err != nil {
		d.logger.Warn("failed to update processing view", "view_id", viewID, "error", err)
	}
}

func (d *Dispatcher) sendDirect(ctx context.Context, meta model.EventMeta, msg model.MessagePayload) {
	if err := d.notifier.SendDirect(ctx, meta.UserID, meta.ChannelID, msg); err != nil {
		d.logger.Error("failed to deliver message",
			"interaction_id", meta.InteractionID,
			"kind", msg.Kind,
			"error", err,
		)
	}
}

// sendEphemeral posts in the originating channel, falling back to a direct
// message when the interaction has no channel.
func (d *Dispatcher) sendEphemeral(ctx context.Context, meta model.EventMeta, msg model.MessagePayload) {
	if meta.ChannelID == "" {
		d.sendDirect(ctx, meta, msg)
		return
	}
	if err := d.notifier.SendEphemeral(ctx, meta.ChannelID, meta.UserID, msg); err != nil {
		d.logger.Error("failed to post ephemeral message",
			"interaction_id", meta.InteractionID,
			"kind", msg.Kind,
			"error", err,
		)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev model.Event) model.Payload {
	payload := d.events.HandleEvent(ctx, ev)
	d.count(string(ev.Kind()), outcome(payload))
	return payload
}

func (d *Dispatcher) count(kind, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.EventsTotal.WithLabelValues(kind, result).Inc()
}

// outcome labels a payload for the events metric.
func outcome(p model.Payload) string {
	switch v := p.(type) {
	case model.MenuPayload:
		return "menu"
	case model.FormPayload:
		if v.HasErrors() {
			return "form_errors"
		}
		return "form"
	case model.MessagePayload:
		return string(v.Kind)
	default:
		return "none"
	}
}

func messageResponse(msg model.MessagePayload) *slackapi.Msg {
	return &slackapi.Msg{
		ResponseType: slackapi.ResponseTypeEphemeral,
		Text:         msg.Text,
		Blocks:       slackapi.Blocks{BlockSet: template.BuildMessageBlocks(msg)},
	}
}

// channelOf returns the channel an interaction happened in.
func channelOf(cb slackapi.InteractionCallback) string {
	if cb.Channel.ID != "" {
		return cb.Channel.ID
	}
	return cb.Container.ChannelID
}
