package slackbot_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/jonny/refundbot/internal/adapter/inbound/slackbot"
	"github.com/jonny/refundbot/internal/adapter/inbound/slackbot/template"
	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/service"
	"github.com/jonny/refundbot/internal/observability"
)

// ---- mocks ----

type mockEvents struct {
	mu     sync.Mutex
	events []model.Event
	reply  func(model.Event) model.Payload
}

func (m *mockEvents) HandleEvent(_ context.Context, ev model.Event) model.Payload {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return m.reply(ev)
}

func (m *mockEvents) last(t *testing.T) model.Event {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		t.Fatal("no events dispatched")
	}
	return m.events[len(m.events)-1]
}

type openedForm struct {
	triggerID string
	form      model.FormPayload
	meta      template.ModalMetadata
}

type sentMessage struct {
	userID    string
	channelID string
	msg       model.MessagePayload
}

type mockNotifier struct {
	mu        sync.Mutex
	opened    []openedForm
	updated   []slackapi.ModalViewRequest
	ephemeral []sentMessage
	direct    []sentMessage
	responded []sentMessage
	replies   []string
	// respondErr fails Respond when set.
	respondErr error
}

func (m *mockNotifier) OpenForm(_ context.Context, triggerID string, form model.FormPayload, meta template.ModalMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, openedForm{triggerID, form, meta})
	return nil
}

func (m *mockNotifier) UpdateView(_ context.Context, _ string, view slackapi.ModalViewRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, view)
	return nil
}

func (m *mockNotifier) SendEphemeral(_ context.Context, channelID, userID string, msg model.MessagePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ephemeral = append(m.ephemeral, sentMessage{userID, channelID, msg})
	return nil
}

func (m *mockNotifier) SendDirect(_ context.Context, userID, channelID string, msg model.MessagePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct = append(m.direct, sentMessage{userID, channelID, msg})
	return nil
}

func (m *mockNotifier) Respond(_ context.Context, responseURL string, msg model.MessagePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.respondErr != nil {
		return m.respondErr
	}
	m.responded = append(m.responded, sentMessage{channelID: responseURL, msg: msg})
	return nil
}

func (m *mockNotifier) Reply(_ context.Context, _, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return nil
}

type fixture struct {
	events   *mockEvents
	notifier *mockNotifier
	metrics  *observability.Metrics
	d        *slackbot.Dispatcher
}

func newFixture(t *testing.T, budget time.Duration, reply func(model.Event) model.Payload) *fixture {
	t.Helper()
	f := &fixture{
		events:   &mockEvents{reply: reply},
		notifier: &mockNotifier{},
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	f.d = slackbot.NewDispatcher(f.events, f.notifier, slackbot.DispatcherConfig{
		Accepts:   func(cmd string) bool { return cmd == "/support" || cmd == "/refund" },
		AckBudget: budget,
	}, f.metrics, nil)
	return f
}

func receiptPayload() model.MessagePayload {
	return model.MessagePayload{Kind: model.MessageReceipt, Text: "Refund processed", Title: "Refund Processed Successfully"}
}

func submission(values map[string]string) slackapi.InteractionCallback {
	cb := slackapi.InteractionCallback{Type: slackapi.InteractionTypeViewSubmission}
	cb.User.ID = "U1"
	cb.View.ID = "V1"
	cb.View.Title = slackapi.NewTextBlockObject(slackapi.PlainTextType, "Request Refund", false, false)
	cb.View.PrivateMetadata = template.ModalMetadata{InteractionID: "T1", ChannelID: "C1"}.Encode()
	state := &slackapi.ViewState{Values: map[string]map[string]slackapi.BlockAction{}}
	for k, v := range values {
		state.Values[k] = map[string]slackapi.BlockAction{k: {Value: v}}
	}
	cb.View.State = state
	return cb
}

// ---- slash commands ----

func TestHandleSlashCommand_Menu(t *testing.T) {
	f := newFixture(t, time.Second, func(ev model.Event) model.Payload {
		return model.MenuPayload{
			InteractionID: ev.Meta().InteractionID,
			Greeting:      "Welcome to Support! How can I help you today?",
			Actions:       []model.MenuAction{{ActionID: model.ActionRequestRefund, Label: "Request Refund"}},
		}
	})

	msg := f.d.HandleSlashCommand(context.Background(), slackapi.SlashCommand{
		Command: "/support", TriggerID: "T1", UserID: "U1", ChannelID: "C1",
	})

	if msg.ResponseType != slackapi.ResponseTypeEphemeral {
		t.Errorf("response type = %q, want ephemeral", msg.ResponseType)
	}
	if len(msg.Blocks.BlockSet) != 2 {
		t.Errorf("expected menu blocks, got %d", len(msg.Blocks.BlockSet))
	}

	ev, ok := f.events.last(t).(model.SlashCommand)
	if !ok {
		t.Fatalf("expected SlashCommand event, got %T", f.events.last(t))
	}
	if ev.InteractionID != "T1" || ev.UserID != "U1" || ev.ChannelID != "C1" {
		t.Errorf("unexpected event meta: %+v", ev.EventMeta)
	}
	if got := testutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues("slash_command", "menu")); got != 1 {
		t.Errorf("events_total{slash_command,menu} = %v, want 1", got)
	}
}

func TestHandleSlashCommand_UnknownCommand(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		t.Fatal("unexpected dispatch")
		return nil
	})

	msg := f.d.HandleSlashCommand(context.Background(), slackapi.SlashCommand{Command: "/deploy"})
	if msg.Text == "" || msg.ResponseType != slackapi.ResponseTypeEphemeral {
		t.Errorf("unexpected response: %+v", msg)
	}
}

func TestHandleSlashCommand_Help(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		return model.MessagePayload{Kind: model.MessageInfo, Text: "help", Title: "Support Bot Commands"}
	})

	msg := f.d.HandleSlashCommand(context.Background(), slackapi.SlashCommand{Command: "/support", Text: "help"})
	if msg.Text != "help" || len(msg.Blocks.BlockSet) == 0 {
		t.Errorf("unexpected help response: %+v", msg)
	}
}

func TestHandleSlashCommand_SlowCommandRespondsLate(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 20*time.Millisecond, func(model.Event) model.Payload {
		<-release
		return receiptPayload()
	})

	msg := f.d.HandleSlashCommand(context.Background(), slackapi.SlashCommand{
		Command: "/refund", Text: "ch_abc", TriggerID: "T1", UserID: "U1", ChannelID: "C1",
		ResponseURL: "https://hooks.slack.test/commands/1",
	})
	if !strings.Contains(msg.Text, "Processing") {
		t.Errorf("ack text = %q, want processing note", msg.Text)
	}

	close(release)
	f.d.Wait()

	if len(f.notifier.responded) != 1 {
		t.Fatalf("expected 1 late response, got %d", len(f.notifier.responded))
	}
	if got := f.notifier.responded[0]; got.channelID != "https://hooks.slack.test/commands/1" || got.msg.Kind != model.MessageReceipt {
		t.Errorf("unexpected late response: %+v", got)
	}
	if len(f.notifier.direct) != 0 {
		t.Errorf("direct fallback should not be used, got %d", len(f.notifier.direct))
	}
}

func TestHandleSlashCommand_LateResponseFallsBackToDirect(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 20*time.Millisecond, func(model.Event) model.Payload {
		<-release
		return receiptPayload()
	})
	f.notifier.respondErr = errors.New("expired_url")

	f.d.HandleSlashCommand(context.Background(), slackapi.SlashCommand{Command: "/refund", Text: "ch_abc", TriggerID: "T1", UserID: "U1", ChannelID: "C1"})
	close(release)
	f.d.Wait()

	if len(f.notifier.direct) != 1 || f.notifier.direct[0].userID != "U1" {
		t.Fatalf("expected direct fallback to U1, got %+v", f.notifier.direct)
	}
}

// ---- shutdown ----

func TestWait_RefusesNewWork(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		t.Fatal("no event should be dispatched after Wait")
		return nil
	})
	f.d.Wait()

	ack := f.d.HandleInteraction(context.Background(), submission(map[string]string{model.FieldAmount: "1999"}))
	resp, ok := ack.(*slackapi.ViewSubmissionResponse)
	if !ok || resp.ResponseAction != slackapi.RAUpdate {
		t.Fatalf("expected a result view for refused submission, got %#v", ack)
	}

	msg := f.d.HandleSlashCommand(context.Background(), slackapi.SlashCommand{Command: "/support", TriggerID: "T2", UserID: "U1"})
	if !strings.Contains(msg.Text, "restarting") {
		t.Errorf("slash command ack = %q, want restart notice", msg.Text)
	}

	f.d.Wait()
	if len(f.notifier.direct) != 0 {
		t.Errorf("refused work must not deliver messages, got %d", len(f.notifier.direct))
	}
}

func TestWait_ConcurrentWithSubmissions(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		return receiptPayload()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.d.HandleInteraction(context.Background(), submission(map[string]string{model.FieldAmount: "1999"}))
		}()
	}
	f.d.Wait()
	wg.Wait()

	f.events.mu.Lock()
	dispatched := len(f.events.events)
	f.events.mu.Unlock()
	f.notifier.mu.Lock()
	delivered := len(f.notifier.direct)
	f.notifier.mu.Unlock()
	if delivered != dispatched {
		t.Errorf("delivered %d of %d accepted submissions", delivered, dispatched)
	}
}

// ---- block actions ----

func TestHandleInteraction_ButtonOpensForm(t *testing.T) {
	f := newFixture(t, time.Second, func(ev model.Event) model.Payload {
		return service.RefundForm(ev.Meta().InteractionID)
	})

	cb := slackapi.InteractionCallback{Type: slackapi.InteractionTypeBlockActions, TriggerID: "trigger-2"}
	cb.User.ID = "U1"
	cb.Channel.ID = "C1"
	cb.ActionCallback.BlockActions = []*slackapi.BlockAction{
		{ActionID: model.ActionRequestRefund, Value: "T1"},
		{ActionID: "unrelated", Value: "x"},
	}

	if ack := f.d.HandleInteraction(context.Background(), cb); ack != nil {
		t.Errorf("block actions should ack with an empty body, got %v", ack)
	}

	ev, ok := f.events.last(t).(model.ButtonClick)
	if !ok {
		t.Fatalf("expected ButtonClick, got %T", f.events.last(t))
	}
	if ev.InteractionID != "T1" || ev.ActionID != model.ActionRequestRefund {
		t.Errorf("unexpected click: %+v", ev)
	}

	if len(f.notifier.opened) != 1 {
		t.Fatalf("expected 1 form opened, got %d", len(f.notifier.opened))
	}
	opened := f.notifier.opened[0]
	if opened.triggerID != "trigger-2" {
		t.Errorf("form must open with the click trigger, got %q", opened.triggerID)
	}
	if opened.meta.InteractionID != "T1" || opened.meta.ChannelID != "C1" {
		t.Errorf("unexpected modal metadata: %+v", opened.meta)
	}
}

func TestHandleInteraction_StaleClickIsEphemeral(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		return model.MessagePayload{Kind: model.MessageStale, Text: "expired"}
	})

	cb := slackapi.InteractionCallback{Type: slackapi.InteractionTypeBlockActions}
	cb.User.ID = "U1"
	cb.Container.ChannelID = "C9"
	cb.ActionCallback.BlockActions = []*slackapi.BlockAction{{ActionID: model.ActionAskQuestion, Value: "gone"}}

	f.d.HandleInteraction(context.Background(), cb)

	if len(f.notifier.ephemeral) != 1 || f.notifier.ephemeral[0].channelID != "C9" {
		t.Errorf("expected stale message in C9, got %+v", f.notifier.ephemeral)
	}
}

func TestHandleInteraction_ClickWithoutChannelGoesDirect(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		return model.MessagePayload{Kind: model.MessageStale, Text: "expired"}
	})

	cb := slackapi.InteractionCallback{Type: slackapi.InteractionTypeBlockActions}
	cb.User.ID = "U1"
	cb.ActionCallback.BlockActions = []*slackapi.BlockAction{{ActionID: model.ActionAskQuestion, Value: "gone"}}

	f.d.HandleInteraction(context.Background(), cb)

	if len(f.notifier.direct) != 1 || f.notifier.direct[0].userID != "U1" {
		t.Errorf("expected direct message to U1, got %+v", f.notifier.direct)
	}
}

// ---- view submissions ----

func TestHandleInteraction_SubmissionValidationErrors(t *testing.T) {
	f := newFixture(t, time.Second, func(ev model.Event) model.Payload {
		form := service.RefundForm(ev.Meta().InteractionID)
		form.Errors = map[string]string{model.FieldAmount: "Amount must be greater than zero."}
		return form
	})

	ack := f.d.HandleInteraction(context.Background(), submission(map[string]string{
		model.FieldPaymentIntentID: "pi_1", model.FieldAmount: "0", model.FieldReason: "r",
	}))

	resp, ok := ack.(*slackapi.ViewSubmissionResponse)
	if !ok {
		t.Fatalf("expected ViewSubmissionResponse, got %T", ack)
	}
	if resp.ResponseAction != slackapi.RAErrors {
		t.Errorf("response action = %q, want errors", resp.ResponseAction)
	}
	if resp.Errors[model.FieldAmount] == "" {
		t.Errorf("missing amount error: %v", resp.Errors)
	}

	ev := f.events.last(t).(model.ModalSubmit)
	if ev.InteractionID != "T1" || ev.ChannelID != "C1" || ev.FormValues[model.FieldAmount] != "0" {
		t.Errorf("unexpected submit event: %+v", ev)
	}
}

func TestHandleInteraction_SubmissionDeliversMessage(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		return receiptPayload()
	})

	ack := f.d.HandleInteraction(context.Background(), submission(map[string]string{model.FieldAmount: "1999"}))
	if ack != nil {
		t.Errorf("completed submission should close the modal, got %v", ack)
	}

	f.d.Wait()
	if len(f.notifier.direct) != 1 {
		t.Fatalf("expected 1 direct message, got %d", len(f.notifier.direct))
	}
	sent := f.notifier.direct[0]
	if sent.userID != "U1" || sent.channelID != "C1" || sent.msg.Kind != model.MessageReceipt {
		t.Errorf("unexpected delivery: %+v", sent)
	}
	if got := testutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues("modal_submit", "receipt")); got != 1 {
		t.Errorf("events_total{modal_submit,receipt} = %v, want 1", got)
	}
}

func TestHandleInteraction_SlowSubmissionIsDeferred(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 20*time.Millisecond, func(model.Event) model.Payload {
		<-release
		return receiptPayload()
	})

	ack := f.d.HandleInteraction(context.Background(), submission(nil))

	resp, ok := ack.(*slackapi.ViewSubmissionResponse)
	if !ok {
		t.Fatalf("expected ViewSubmissionResponse, got %T", ack)
	}
	if resp.ResponseAction != slackapi.RAUpdate {
		t.Errorf("response action = %q, want update", resp.ResponseAction)
	}

	close(release)
	f.d.Wait()

	if len(f.notifier.direct) != 1 {
		t.Fatalf("expected deferred direct message, got %d", len(f.notifier.direct))
	}
	if len(f.notifier.updated) != 1 {
		t.Fatalf("expected processing view to be replaced, got %d updates", len(f.notifier.updated))
	}
	if f.notifier.updated[0].Title.Text != "Request Refund" {
		t.Errorf("result view title = %q", f.notifier.updated[0].Title.Text)
	}
}

func TestHandleInteraction_SubmissionWithoutMetadata(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		return model.MessagePayload{Kind: model.MessageStale, Text: "expired"}
	})

	cb := submission(nil)
	cb.View.PrivateMetadata = ""
	f.d.HandleInteraction(context.Background(), cb)
	f.d.Wait()

	ev := f.events.last(t).(model.ModalSubmit)
	if ev.InteractionID != "" {
		t.Errorf("expected empty interaction id, got %q", ev.InteractionID)
	}
}

func TestHandleInteraction_IgnoresOtherTypes(t *testing.T) {
	f := newFixture(t, time.Second, func(model.Event) model.Payload {
		t.Fatal("unexpected dispatch")
		return nil
	})

	cb := slackapi.InteractionCallback{Type: slackapi.InteractionTypeViewClosed}
	if ack := f.d.HandleInteraction(context.Background(), cb); ack != nil {
		t.Errorf("expected nil ack, got %v", ack)
	}
}

// ---- messages ----

func TestHandleMessage_Greeting(t *testing.T) {
	f := newFixture(t, time.Second, nil)

	f.d.HandleMessage(context.Background(), &slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "Hello bot"})
	f.d.HandleMessage(context.Background(), &slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "refund please"})
	f.d.HandleMessage(context.Background(), &slackevents.MessageEvent{BotID: "B1", Channel: "C1", Text: "hello"})

	if len(f.notifier.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(f.notifier.replies))
	}
	if f.notifier.replies[0] != "Hey there <@U1>! :wave:" {
		t.Errorf("unexpected greeting: %q", f.notifier.replies[0])
	}
}
