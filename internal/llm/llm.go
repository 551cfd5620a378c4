// Package llm sends chat completions to an OpenAI-compatible API.
package llm

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is one completion call. History precedes Prompt in the
// conversation sent to the model.
type Request struct {
	Model       string
	System      string
	History     []Message
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer performs a single completion call. Implementations never retry.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client kinds accepted by New.
const (
	ClientGenkit = "genkit"
	ClientOpenAI = "openai"
)

// Config selects and configures the completion client.
type Config struct {
	Client   string
	Provider string
	APIKey   string
	BaseURL  string
}

// New builds the completer named by cfg.Client. An empty client selects genkit.
func New(ctx context.Context, cfg Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Client)) {
	case "", ClientGenkit:
		return NewGenkitCompleter(ctx, cfg)
	case ClientOpenAI:
		return NewOpenAICompleter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm client %q (supported: %s, %s)", cfg.Client, ClientGenkit, ClientOpenAI)
	}
}
