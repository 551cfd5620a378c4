package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GenkitCompleter routes completions through Genkit's OpenAI-compatible
// plugin. Model ids are namespaced by the plugin provider.
type GenkitCompleter struct {
	g        *genkit.Genkit
	provider string
}

func NewGenkitCompleter(ctx context.Context, cfg Config) (*GenkitCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("genkit completer: api key is required")
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	plugin := &compat_oai.OpenAICompatible{
		Provider: provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Opts:     []option.RequestOption{option.WithMaxRetries(0)},
	}
	g := genkit.Init(ctx, genkit.WithPlugins(plugin))
	slog.Info("genkit completer initialized", "provider", provider, "base_url", cfg.BaseURL)
	return &GenkitCompleter{g: g, provider: provider}, nil
}

func (c *GenkitCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(c.provider + "/" + req.Model),
		ai.WithConfig(completionParams(req)),
	}
	if req.System != "" {
		// ai.WithSystem formats its text.
		opts = append(opts, ai.WithSystem(strings.ReplaceAll(req.System, "%", "%%")))
	}
	if msgs := toGenkitMessages(req.History); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}
	opts = append(opts, ai.WithPrompt(strings.ReplaceAll(req.Prompt, "%", "%%")))

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("genkit generate: %w", err)
	}
	out := &Response{Text: resp.Text(), Model: req.Model}
	if resp.Usage != nil {
		out.InputTokens = resp.Usage.InputTokens
		out.OutputTokens = resp.Usage.OutputTokens
	}
	return out, nil
}

func completionParams(req Request) *openai.ChatCompletionNewParams {
	p := &openai.ChatCompletionNewParams{
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return p
}

func toGenkitMessages(history []Message) []*ai.Message {
	var msgs []*ai.Message
	for _, m := range history {
		var role ai.Role
		switch m.Role {
		case RoleUser:
			role = ai.RoleUser
		case RoleAssistant:
			role = ai.RoleModel
		case RoleSystem:
			role = ai.RoleSystem
		default:
			continue
		}
		msgs = append(msgs, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}
	return msgs
}
