package template_test

import (
	"strings"
	"testing"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/refundbot/internal/adapter/inbound/slackbot/template"
	"github.com/jonny/refundbot/internal/domain/model"
)

func testMenu() model.MenuPayload {
	return model.MenuPayload{
		InteractionID: "T123",
		Greeting:      "Welcome to Support! How can I help you today?",
		Actions: []model.MenuAction{
			{ActionID: model.ActionAskQuestion, Label: "Ask a Question"},
			{ActionID: model.ActionRequestRefund, Label: "Request Refund", Style: model.ButtonDanger},
		},
	}
}

func menuButtons(t *testing.T, blocks []slackapi.Block) []*slackapi.ButtonBlockElement {
	t.Helper()
	var buttons []*slackapi.ButtonBlockElement
	for _, b := range blocks {
		actionBlock, ok := b.(*slackapi.ActionBlock)
		if !ok {
			continue
		}
		for _, elem := range actionBlock.Elements.ElementSet {
			if btn, ok := elem.(*slackapi.ButtonBlockElement); ok {
				buttons = append(buttons, btn)
			}
		}
	}
	return buttons
}

func TestBuildMenuBlocks_Greeting(t *testing.T) {
	blocks := template.BuildMenuBlocks(testMenu())

	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	section, ok := blocks[0].(*slackapi.SectionBlock)
	if !ok {
		t.Fatalf("expected SectionBlock greeting, got %T", blocks[0])
	}
	if !strings.Contains(section.Text.Text, "How can I help you today?") {
		t.Errorf("unexpected greeting: %s", section.Text.Text)
	}
}

func TestBuildMenuBlocks_ButtonsCarryInteractionID(t *testing.T) {
	buttons := menuButtons(t, template.BuildMenuBlocks(testMenu()))

	if len(buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(buttons))
	}
	if buttons[0].ActionID != model.ActionAskQuestion || buttons[1].ActionID != model.ActionRequestRefund {
		t.Errorf("unexpected button order: %s, %s", buttons[0].ActionID, buttons[1].ActionID)
	}
	for _, btn := range buttons {
		if btn.Value != "T123" {
			t.Errorf("button %s value = %q, want T123", btn.ActionID, btn.Value)
		}
	}
	if buttons[0].Style != slackapi.StyleDefault {
		t.Errorf("ask button style = %q, want default", buttons[0].Style)
	}
	if buttons[1].Style != slackapi.StyleDanger {
		t.Errorf("refund button style = %q, want danger", buttons[1].Style)
	}
	if buttons[1].Text.Text != "Request Refund" {
		t.Errorf("refund button label = %q", buttons[1].Text.Text)
	}
}

func TestIsMenuAction(t *testing.T) {
	tests := []struct {
		actionID string
		expected bool
	}{
		{model.ActionAskQuestion, true},
		{model.ActionRequestRefund, true},
		{"approval_approve", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := template.IsMenuAction(tt.actionID); got != tt.expected {
			t.Errorf("IsMenuAction(%q) = %v, want %v", tt.actionID, got, tt.expected)
		}
	}
}
