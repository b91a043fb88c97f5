package recommender

import (
	"strings"
	"testing"
	"time"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

func TestParseProposal_PlainJSON(t *testing.T) {
	p, err := parseProposal(`{"moves":[{"item_id":"a","start_time":"2025-03-10T07:00:00Z","duration":45}],"score":82.5,"rationale":"earlier run"}`)
	if err != nil {
		t.Fatalf("parseProposal: %v", err)
	}
	if len(p.Moves) != 1 || p.Moves[0].ItemID != "a" || p.Moves[0].Duration != 45 {
		t.Fatalf("moves = %+v", p.Moves)
	}
	want := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	if !p.Moves[0].StartTime.Equal(want) {
		t.Fatalf("start = %v", p.Moves[0].StartTime)
	}
	if p.Score != 82.5 || p.Rationale != "earlier run" {
		t.Fatalf("score/rationale = %v/%q", p.Score, p.Rationale)
	}
}

func TestParseProposal_CodeFenced(t *testing.T) {
	fenced := "```json\n{\"moves\":[],\"score\":10,\"rationale\":\"keep as is\"}\n```"
	p, err := parseProposal(fenced)
	if err != nil {
		t.Fatalf("parseProposal fenced: %v", err)
	}
	if p.Score != 10 || len(p.Moves) != 0 {
		t.Fatalf("proposal = %+v", p)
	}

	bare := "```\n{\"moves\":[],\"score\":5,\"rationale\":\"\"}\n```"
	if _, err := parseProposal(bare); err != nil {
		t.Fatalf("parseProposal bare fence: %v", err)
	}
}

func TestParseProposal_Garbage(t *testing.T) {
	if _, err := parseProposal("sure, here is the schedule"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestBuildPrompt_EmbedsStateAndPreferences(t *testing.T) {
	req := ProposalRequest{
		UserID:      "u1",
		Type:        domain.OptimizeTimeBlocking,
		Items:       []domain.SnapshotItem{{ItemID: "a"}},
		Preferences: "mornings only",
	}
	prompt, err := buildPrompt(req)
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	for _, want := range []string{`"time_blocking"`, `"a"`, "mornings only", "Respond with JSON only"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestNewClient_ProviderSelection(t *testing.T) {
	if _, err := NewClient(Options{Provider: "gemini"}); err == nil {
		t.Fatalf("gemini without key must fail")
	}
	c, err := NewClient(Options{Provider: "gemini", APIKey: "k"})
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if _, ok := c.(*Gemini); !ok {
		t.Fatalf("expected *Gemini, got %T", c)
	}

	c, err = NewClient(Options{Provider: "mock"})
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, ok := c.(*MockClient); !ok {
		t.Fatalf("expected *MockClient, got %T", c)
	}

	if _, err := NewClient(Options{Provider: "oracle"}); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}
