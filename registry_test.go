package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/feedbax/dispatch"
)

func TestShouldLookupRegisteredAgents(t *testing.T) {
	r := dispatch.NewRegistry()

	err := r.Register("feedback.created", okAgent("notify-team"), okAgent("summarize"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	err = r.Register("feedback.created", okAgent("score-health"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	agents := r.Agents("feedback.created")
	if len(agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(agents))
	}

	if agents[0].Name() != "notify-team" {
		t.Fatalf("registration order should be preserved")
	}
}

func TestShouldReturnEmptySetForUnknownType(t *testing.T) {
	r := dispatch.NewRegistry()

	agents := r.Agents("billing.invoice_paid")
	if agents == nil || len(agents) != 0 {
		t.Fatalf("unknown type should yield an empty slice, got %v", agents)
	}
}

func TestShouldValidateEventTypeNames(t *testing.T) {
	tests := map[string]bool{
		"feedback.created":     false,
		"feedback":             false,
		"poll.vote-registered": false,
		"":                     true,
		"feedback created":     true,
		"feedback..created":    true,
	}

	for name, wantErr := range tests {
		r := dispatch.NewRegistry()

		err := r.Register(name, okAgent("a"))
		if wantErr && !errors.Is(err, dispatch.ErrTypeNotValid) {
			t.Fatalf("%q: expected ErrTypeNotValid, got %v", name, err)
		}

		if !wantErr && err != nil {
			t.Fatalf("%q: unexpected error: %v", name, err)
		}
	}
}

func TestShouldRejectDuplicateAgentNamePerType(t *testing.T) {
	r := dispatch.NewRegistry()

	err := r.Register("feedback.created", okAgent("notify-team"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	err = r.Register("feedback.created", okAgent("notify-team"))
	if !errors.Is(err, dispatch.ErrAgentNameTaken) {
		t.Fatalf("expected ErrAgentNameTaken, got %v", err)
	}

	// Same name under a different type is fine
	err = r.Register("feedback.deleted", okAgent("notify-team"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}
}

func TestShouldNotExposeInternalAgentSlice(t *testing.T) {
	r := dispatch.NewRegistry()

	err := r.Register("feedback.created", okAgent("notify-team"))
	if err != nil {
		t.Fatalf("error: %v", err)
	}

	agents := r.Agents("feedback.created")
	agents[0] = okAgent("mutated")

	if r.Agents("feedback.created")[0].Name() != "notify-team" {
		t.Fatal("mutating the returned slice should not affect the registry")
	}
}

func TestAgentFuncDelegates(t *testing.T) {
	var handled bool

	agent := dispatch.AgentFunc("notify-team", func(context.Context, dispatch.Event) error {
		handled = true

		return nil
	})

	if agent.Name() != "notify-team" {
		t.Fatalf("unexpected name: %s", agent.Name())
	}

	if err := agent.Handle(context.Background(), dispatch.Event{}); err != nil {
		t.Fatalf("error: %v", err)
	}

	if !handled {
		t.Fatal("handler func should have been invoked")
	}
}
