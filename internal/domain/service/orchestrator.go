package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/inbound"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
	"github.com/jonny/refundbot/internal/domain/receipt"
)

// RefundCommand is the slash command that fully refunds a charge.
const RefundCommand = "/refund"

const (
	menuGreeting     = "Welcome to Support! How can I help you today?"
	staleText        = "This session has expired. Please run the command again to restart."
	inProgressText   = "This request is already being processed. The result will be sent to you shortly."
	storeFailureText = "Something went wrong on our side. Please try again in a moment."
	answerFallback   = "We could not prepare an answer right now. A support agent will follow up."

	chargePrefix       = "ch_"
	chargeUsage        = "Usage: `/refund ch_xxxxxxxxxxxxx`"
	chargeRefundReason = "Requested by customer"
	maxChargeIDLength  = 255

	historyLimit = 10
)

// Dependencies groups everything the orchestrator needs. Ledger and Logger are
// optional.
type Dependencies struct {
	Store    outbound.DialogStore
	Gateway  outbound.RefundGateway
	Answers  outbound.AnswerProvider
	Ledger   outbound.RefundLedger
	Renderer *receipt.Renderer
	Logger   *slog.Logger
}

// Orchestrator is the dialog state machine. It turns each platform event into
// exactly one outbound payload.
type Orchestrator struct {
	store    outbound.DialogStore
	gateway  outbound.RefundGateway
	answers  outbound.AnswerProvider
	ledger   outbound.RefundLedger
	renderer *receipt.Renderer
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator with the given dependencies.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = receipt.NewRenderer(receipt.DefaultCurrencyPrefix)
	}
	return &Orchestrator{
		store:    deps.Store,
		gateway:  deps.Gateway,
		answers:  deps.Answers,
		ledger:   deps.Ledger,
		renderer: renderer,
		logger:   logger.With("component", "orchestrator"),
	}
}

var _ inbound.EventHandler = (*Orchestrator)(nil)

// HandleEvent implements inbound.EventHandler.
func (o *Orchestrator) HandleEvent(ctx context.Context, event model.Event) (payload model.Payload) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while handling event", "panic", fmt.Sprint(r))
			payload = failureMessage(storeFailureText)
		}
	}()

	if event == nil {
		return failureMessage(storeFailureText)
	}

	switch ev := event.(type) {
	case model.SlashCommand:
		return o.handleSlashCommand(ctx, ev)
	case model.ButtonClick:
		return o.handleButtonClick(ctx, ev)
	case model.ModalSubmit:
		return o.handleModalSubmit(ctx, ev)
	default:
		o.logger.Warn("unsupported event type", "type", fmt.Sprintf("%T", event))
		return failureMessage(storeFailureText)
	}
}

func (o *Orchestrator) handleSlashCommand(ctx context.Context, ev model.SlashCommand) model.Payload {
	args := strings.Fields(ev.Text)
	sub := ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch {
	case sub == "help":
		return helpMessage(ev.Command)
	case ev.Command == RefundCommand:
		return o.refundCharge(ctx, ev, args)
	case sub == "history":
		return o.history(ctx, ev)
	}

	if ev.InteractionID == "" {
		return failureMessage(storeFailureText)
	}

	if err := o.store.Put(ctx, model.NewInteractionContext(ev.EventMeta, model.StageMenu)); err != nil {
		// The menu still works: a button click creates its own context.
		o.logger.Warn("storing menu context failed", "interaction_id", ev.InteractionID, "error", err)
	}

	return model.MenuPayload{
		InteractionID: ev.InteractionID,
		Greeting:      menuGreeting,
		Actions: []model.MenuAction{
			{ActionID: model.ActionAskQuestion, Label: "Ask a Question"},
			{ActionID: model.ActionRequestRefund, Label: "Request Refund", Style: model.ButtonDanger},
		},
	}
}

// refundCharge fully refunds the charge named in the command text.
func (o *Orchestrator) refundCharge(ctx context.Context, ev model.SlashCommand, args []string) model.Payload {
	if len(args) == 0 {
		return model.MessagePayload{Kind: model.MessageInfo, Text: "Please provide a charge ID.\n\n" + chargeUsage}
	}
	chargeID := args[0]
	if !strings.HasPrefix(chargeID, chargePrefix) || len(chargeID) > maxChargeIDLength {
		return model.MessagePayload{
			Kind: model.MessageInfo,
			Text: "Invalid charge ID format. Charge IDs must start with `" + chargePrefix + "`.\n\n" + chargeUsage,
		}
	}
	if ev.InteractionID == "" {
		return failureMessage(storeFailureText)
	}

	payload, _ := o.executeRefund(ctx, ev.EventMeta, model.RefundRequest{ChargeID: chargeID, Reason: chargeRefundReason})
	return payload
}

// history lists the caller's most recent ledger entries.
func (o *Orchestrator) history(ctx context.Context, ev model.SlashCommand) model.Payload {
	if o.ledger == nil {
		return model.MessagePayload{Kind: model.MessageInfo, Text: "Refund history is not available."}
	}
	records, err := o.ledger.ListByUser(ctx, ev.UserID, historyLimit)
	if err != nil {
		o.logger.Error("listing refund history failed", "user_id", ev.UserID, "error", err)
		return failureMessage(storeFailureText)
	}
	if len(records) == 0 {
		return model.MessagePayload{Kind: model.MessageInfo, Text: "You have no recorded refunds."}
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		line := fmt.Sprintf("• %s `%s` %s %s",
			rec.CreatedAt.Format("2006-01-02"),
			rec.PaymentIntentID,
			o.renderer.Amount(rec.AmountMinor),
			strings.ToLower(string(rec.Status)),
		)
		if rec.RefundID != "" {
			line += " (" + rec.RefundID + ")"
		}
		lines = append(lines, line)
	}
	return model.MessagePayload{
		Kind:  model.MessageInfo,
		Title: "Your Recent Refunds",
		Text:  strings.Join(lines, "\n"),
	}
}

func (o *Orchestrator) handleButtonClick(ctx context.Context, ev model.ButtonClick) model.Payload {
	var (
		stage model.Stage
		form  model.FormPayload
	)
	switch ev.ActionID {
	case model.ActionRequestRefund:
		stage, form = model.StageAwaitingRefundInput, RefundForm(ev.InteractionID)
	case model.ActionAskQuestion:
		stage, form = model.StageAwaitingQuestion, QuestionForm(ev.InteractionID)
	default:
		return model.MessagePayload{Kind: model.MessageInfo, Text: fmt.Sprintf("Unknown action %q.", ev.ActionID)}
	}
	if ev.InteractionID == "" {
		return failureMessage(storeFailureText)
	}

	// Last click wins: a second click reopens the form and overwrites the context.
	_, err := o.store.Update(ctx, ev.InteractionID, func(cur *model.InteractionContext) (*model.InteractionContext, error) {
		next := model.NewInteractionContext(ev.EventMeta, stage)
		if cur != nil {
			next.CreatedAt = cur.CreatedAt
		}
		return &next, nil
	})
	if err != nil {
		o.logger.Error("opening form failed", "interaction_id", ev.InteractionID, "action_id", ev.ActionID, "error", err)
		return failureMessage(storeFailureText)
	}

	o.logger.Debug("form opened", "interaction_id", ev.InteractionID, "stage", stage)
	return form
}

func (o *Orchestrator) handleModalSubmit(ctx context.Context, ev model.ModalSubmit) model.Payload {
	if ev.InteractionID == "" {
		return staleMessage()
	}

	// The claim moves the dialog to PROCESSING before any side effect, so a
	// redelivered submission never reaches the gateway twice. fn may run more
	// than once on contention.
	var (
		claimed  model.Stage
		req      model.RefundRequest
		question string
		verr     *model.ValidationError
	)
	_, err := o.store.Update(ctx, ev.InteractionID, func(cur *model.InteractionContext) (*model.InteractionContext, error) {
		claimed, req, question, verr = "", model.RefundRequest{}, "", nil
		if cur == nil {
			return nil, model.ErrStaleInteraction
		}
		switch cur.Stage {
		case model.StageAwaitingRefundInput:
			req, verr = ParseRefundForm(ev.FormValues)
		case model.StageAwaitingQuestion:
			question = strings.TrimSpace(ev.FormValues[model.FieldQuestion])
			if question == "" {
				verr = model.NewValidationError()
				verr.Add(model.FieldQuestion, "Please enter a question.")
			}
		case model.StageProcessing:
			return nil, model.ErrInteractionInProgress
		default:
			return nil, fmt.Errorf("%w: stage %s", model.ErrStaleInteraction, cur.Stage)
		}

		claimed = cur.Stage
		// Invalid input keeps the stage and refreshes the inactivity window.
		next := cur.WithStage(cur.Stage)
		if verr == nil {
			next = cur.WithStage(model.StageProcessing)
		}
		return &next, nil
	})
	switch {
	case errors.Is(err, model.ErrStaleInteraction):
		o.logger.Info("stale interaction", "interaction_id", ev.InteractionID, "reason", err)
		return staleMessage()
	case errors.Is(err, model.ErrInteractionInProgress):
		o.logger.Info("duplicate submission while processing", "interaction_id", ev.InteractionID)
		return model.MessagePayload{Kind: model.MessageInfo, Text: inProgressText}
	case err != nil:
		o.logger.Error("claiming interaction failed", "interaction_id", ev.InteractionID, "error", err)
		return failureMessage(storeFailureText)
	}

	if verr != nil {
		form := QuestionForm(ev.InteractionID)
		if claimed == model.StageAwaitingRefundInput {
			form = RefundForm(ev.InteractionID)
		}
		form.Errors = verr.Fields
		return form
	}

	// A claimed dialog must not stay in PROCESSING if handling blows up.
	defer func() {
		if r := recover(); r != nil {
			o.finish(ctx, ev.InteractionID, model.StageFailed)
			panic(r)
		}
	}()

	if claimed == model.StageAwaitingRefundInput {
		return o.submitRefund(ctx, ev, req)
	}
	return o.submitQuestion(ctx, ev, question)
}

func (o *Orchestrator) submitRefund(ctx context.Context, ev model.ModalSubmit, req model.RefundRequest) model.Payload {
	payload, succeeded := o.executeRefund(ctx, ev.EventMeta, req)

	stage := model.StageCompleted
	if !succeeded {
		stage = model.StageFailed
	}
	o.finish(ctx, ev.InteractionID, stage)
	return payload
}

// executeRefund runs req through the ledger and the gateway under a key
// derived from the dialog, and renders the outcome.
func (o *Orchestrator) executeRefund(ctx context.Context, meta model.EventMeta, req model.RefundRequest) (model.Payload, bool) {
	key := o.gateway.IdempotencyKey(meta.InteractionID, req.Source(), req.AmountMinor)
	logger := o.logger.With(
		"interaction_id", meta.InteractionID,
		"payment_intent_id", req.PaymentIntentID,
		"charge_id", req.ChargeID,
		"amount_minor", req.AmountMinor,
		"idempotency_key", key,
	)

	result, replayed := o.replay(ctx, key)
	if !replayed {
		result = o.gateway.Refund(ctx, model.RefundCall{
			PaymentIntentID: req.PaymentIntentID,
			ChargeID:        req.ChargeID,
			AmountMinor:     req.AmountMinor,
			Reason:          req.Reason,
			IdempotencyKey:  key,
			Metadata: map[string]string{
				"slack_user_id":    meta.UserID,
				"slack_channel_id": meta.ChannelID,
				"interaction_id":   meta.InteractionID,
				"reason":           req.Reason,
			},
		})
		o.record(ctx, meta, req, result)
	}

	if result.Succeeded() {
		logger.Info("refund succeeded", "refund_id", result.RefundID, "attempts", result.Attempts, "replayed", replayed)
		return o.renderer.RenderReceipt(model.NewReceipt(req, result, meta.UserID)), true
	}
	logger.Warn("refund failed", "code", result.ErrorCode, "attempts", result.Attempts, "timed_out", result.TimedOut)
	return o.renderer.Render(req, result), false
}

func (o *Orchestrator) submitQuestion(ctx context.Context, ev model.ModalSubmit, question string) model.Payload {
	answer, err := o.answers.Answer(ctx, question)
	if err != nil {
		o.logger.Warn("answer provider failed", "interaction_id", ev.InteractionID, "error", err)
		answer = answerFallback
	}
	o.finish(ctx, ev.InteractionID, model.StageCompleted)

	return model.MessagePayload{
		Kind: model.MessageAnswer,
		Text: fmt.Sprintf("Thank you for your question: '%s'\n\n%s", question, answer),
		Body: answer,
	}
}

// replay returns a previously recorded successful result for key, if any.
func (o *Orchestrator) replay(ctx context.Context, key string) (model.RefundResult, bool) {
	if o.ledger == nil {
		return model.RefundResult{}, false
	}
	rec, err := o.ledger.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if !errors.Is(err, model.ErrLedgerRecordNotFound) {
			o.logger.Warn("ledger lookup failed", "idempotency_key", key, "error", err)
		}
		return model.RefundResult{}, false
	}
	if rec.Status != model.RefundSucceeded {
		return model.RefundResult{}, false
	}
	return rec.Result(), true
}

func (o *Orchestrator) record(ctx context.Context, meta model.EventMeta, req model.RefundRequest, res model.RefundResult) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.Record(ctx, model.NewRefundRecord(meta, req, res)); err != nil {
		o.logger.Error("recording refund in ledger failed", "idempotency_key", res.IdempotencyKey, "error", err)
	}
}

// finish moves the dialog to a terminal stage and evicts it.
func (o *Orchestrator) finish(ctx context.Context, interactionID string, stage model.Stage) {
	_, err := o.store.Update(ctx, interactionID, func(cur *model.InteractionContext) (*model.InteractionContext, error) {
		if cur != nil {
			o.logger.Debug("dialog finished", "interaction_id", interactionID, "from", cur.Stage, "to", stage)
		}
		return nil, nil
	})
	if err != nil {
		o.logger.Warn("evicting interaction failed", "interaction_id", interactionID, "error", err)
	}
}

func staleMessage() model.MessagePayload {
	return model.MessagePayload{Kind: model.MessageStale, Text: staleText}
}

func failureMessage(text string) model.MessagePayload {
	return model.MessagePayload{Kind: model.MessageFailure, Text: text}
}

func helpMessage(command string) model.MessagePayload {
	if command == "" || command == RefundCommand {
		command = "/support"
	}
	return model.MessagePayload{
		Kind:  model.MessageInfo,
		Title: "Support Bot Commands",
		Text: strings.Join([]string{
			fmt.Sprintf("`%s` opens the support menu.", command),
			fmt.Sprintf("`%s help` shows this message.", command),
			fmt.Sprintf("`%s history` lists your recent refunds.", command),
			fmt.Sprintf("`%s ch_xxxxxxxxxxxxx` refunds a charge in full.", RefundCommand),
			"From the menu you can ask a question or request a refund.",
		}, "\n"),
	}
}
