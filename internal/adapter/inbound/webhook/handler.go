package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/jonny/refundbot/internal/adapter/inbound/webhook/middleware"
	"github.com/jonny/refundbot/pkg/apierror"
)

// Dispatcher handles Slack payloads independent of the transport.
type Dispatcher interface {
	HandleSlashCommand(ctx context.Context, cmd slackapi.SlashCommand) *slackapi.Msg
	HandleInteraction(ctx context.Context, cb slackapi.InteractionCallback) any
	HandleMessage(ctx context.Context, ev *slackevents.MessageEvent)
}

// Handler serves the Slack HTTP endpoints.
type Handler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(dispatcher Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger.With("component", "slack-http"),
	}
}

// Commands handles POST /slack/commands. The response body is the ephemeral
// reply to the command.
func (h *Handler) Commands(w http.ResponseWriter, r *http.Request) {
	cmd, err := slackapi.SlashCommandParse(r)
	if err != nil {
		apierror.Write(w, apierror.BadRequest("invalid slash command payload"))
		return
	}
	writeJSON(w, h.dispatcher.HandleSlashCommand(r.Context(), cmd))
}

// Interactions handles POST /slack/interactions. Block actions are
// acknowledged with an empty body; view submissions may carry a response action.
func (h *Handler) Interactions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apierror.Write(w, apierror.BadRequest("invalid interaction payload"))
		return
	}

	var cb slackapi.InteractionCallback
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &cb); err != nil {
		apierror.Write(w, apierror.BadRequest("invalid interaction payload"))
		return
	}

	ack := h.dispatcher.HandleInteraction(r.Context(), cb)
	if ack == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, ack)
}

// Events handles POST /slack/events: the URL verification handshake and
// message callbacks.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	body, ok := middleware.RawBody(r.Context())
	if !ok {
		apierror.Write(w, apierror.Internal("request body not available"))
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		apierror.Write(w, apierror.BadRequest("invalid event payload"))
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			apierror.Write(w, apierror.BadRequest("invalid url verification payload"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
	case slackevents.CallbackEvent:
		if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			// Slack wants the callback acknowledged before the reply is posted.
			go h.dispatcher.HandleMessage(context.WithoutCancel(r.Context()), ev)
		}
		w.WriteHeader(http.StatusOK)
	default:
		h.logger.Debug("ignoring event", "type", event.Type)
		w.WriteHeader(http.StatusOK)
	}
}

// Health returns an http.HandlerFunc for the /health endpoint.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
