package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/basket/chatgate/internal/chat"
	"github.com/basket/chatgate/internal/config"
	"github.com/basket/chatgate/internal/llm"
	"github.com/basket/chatgate/internal/session"
	"github.com/basket/chatgate/internal/tokens"
)

type recordingCompleter struct {
	last llm.Request
}

func (c *recordingCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.last = req
	return &llm.Response{Text: "ok", Model: req.Model}, nil
}

func TestApplyReload_SwapsSelectorAndSystemPrompt(t *testing.T) {
	guard, err := tokens.NewGuard(tokens.EstimateCounter{}, 4096, 500)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	completer := &recordingCompleter{}
	svc, err := chat.New(chat.Options{
		Store:        session.NewMemoryStore(),
		Guard:        guard,
		Completer:    completer,
		SystemPrompt: "Be terse.",
	})
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}
	a := &app{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), service: svc}

	if got := svc.Selector().Route("write some sql").Model; got == "gpt-4o" {
		t.Fatalf("unexpected model before reload: %s", got)
	}

	cfg := config.Default()
	cfg.Router.HighCapabilityModel = "gpt-4o"
	cfg.Router.CodingKeywords = []string{"sql"}
	cfg.Chat.SystemPrompt = "Be nice."
	a.applyReload(cfg)

	if got := svc.SystemPrompt(); got != "Be nice." {
		t.Fatalf("system prompt not reloaded: %q", got)
	}
	d := svc.Selector().Route("write some sql")
	if d.Model != "gpt-4o" || d.Rule != "coding" {
		t.Fatalf("selector not reloaded: %+v", d)
	}
	if kw := svc.Selector().Config().CodingKeywords; len(kw) != 1 || kw[0] != "sql" {
		t.Fatalf("unexpected coding keywords %v", kw)
	}

	// The next turn picks up both swapped values.
	if _, err := svc.HandleTurn(context.Background(), chat.TurnRequest{SessionID: "s", Prompt: "write some sql"}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if completer.last.Model != "gpt-4o" || completer.last.System != "Be nice." {
		t.Fatalf("turn used stale config: model=%q system=%q", completer.last.Model, completer.last.System)
	}
}
