// Package chat runs one conversation turn: route the prompt to a model,
// check the token budget, call the LLM and record the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/chatgate/internal/llm"
	"github.com/basket/chatgate/internal/otel"
	"github.com/basket/chatgate/internal/router"
	"github.com/basket/chatgate/internal/session"
	"github.com/basket/chatgate/internal/shared"
	"github.com/basket/chatgate/internal/tokens"
)

const (
	DefaultSystemPrompt = "You are an angry chatbot having a conversation with me."
	DefaultTemperature  = 0.6
)

// ErrEmptyPrompt is returned for a prompt with no visible text.
var ErrEmptyPrompt = errors.New("prompt is required")

// CompletionError wraps a failed LLM call with its error class.
type CompletionError struct {
	Class llm.ErrorClass
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("llm completion (%s): %v", e.Class, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

type TurnRequest struct {
	SessionID string
	Prompt    string
	Title     string
	// MaxTokens lowers the completion cap when positive. It never raises it
	// above what the token guard allows.
	MaxTokens int
}

type TurnResult struct {
	SessionID string
	Reply     string
	Model     string
	Rule      string
	MaxTokens int
	Created   bool

	// BudgetExceeded is set when the prompt left no room for a reply. The
	// LLM was not called and Error holds the user-facing message.
	BudgetExceeded bool
	Error          string
}

type Options struct {
	Store        session.Store
	Guard        *tokens.Guard
	Completer    llm.Completer
	Selector     *router.Selector
	SystemPrompt string
	// Temperature defaults to DefaultTemperature when nil.
	Temperature  *float64
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Metrics      *otel.Metrics
}

// Service is shared by every transport. Turns for one session run one at a
// time; different sessions run in parallel.
type Service struct {
	store       session.Store
	guard       *tokens.Guard
	completer   llm.Completer
	temperature float64
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *otel.Metrics
	locks       keyedMutex
	newID       func() string

	mu           sync.RWMutex
	systemPrompt string
	selector     *router.Selector
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("chat: session store is required")
	}
	if opts.Guard == nil {
		return nil, errors.New("chat: token guard is required")
	}
	if opts.Completer == nil {
		return nil, errors.New("chat: llm completer is required")
	}
	if opts.Selector == nil {
		opts.Selector = router.New(router.DefaultConfig())
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer(otel.ScopeName)
	}
	return &Service{
		store:        opts.Store,
		guard:        opts.Guard,
		completer:    opts.Completer,
		temperature:  temperature,
		logger:       opts.Logger.With("component", "chat"),
		tracer:       opts.Tracer,
		metrics:      opts.Metrics,
		locks:        keyedMutex{locks: make(map[string]*refMutex)},
		newID:        shared.NewSessionID,
		systemPrompt: opts.SystemPrompt,
		selector:     opts.Selector,
	}, nil
}

// SetSystemPrompt replaces the system prompt for subsequent turns.
func (s *Service) SetSystemPrompt(prompt string) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt
	}
	s.mu.Lock()
	s.systemPrompt = prompt
	s.mu.Unlock()
}

// SetSelector replaces the model selector for subsequent turns.
func (s *Service) SetSelector(sel *router.Selector) {
	if sel == nil {
		return
	}
	s.mu.Lock()
	s.selector = sel
	s.mu.Unlock()
}

func (s *Service) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

func (s *Service) Selector() *router.Selector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selector
}

// HandleTurn runs one prompt through the session. A budget rejection is
// reported in the result, not as an error. Tokenizer, store and LLM failures
// are returned as errors and leave the history unchanged.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.newID()
	}
	ctx = shared.WithSessionID(ctx, sessionID)
	logger := shared.Logger(ctx, s.logger)

	ctx, span := otel.StartSpan(ctx, s.tracer, "chat.turn", otel.AttrSessionID.String(sessionID))
	defer span.End()

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	_, created, err := s.store.GetOrCreate(ctx, sessionID, req.Title)
	if err != nil {
		span.SetStatus(codes.Error, "session")
		return nil, fmt.Errorf("load session: %w", err)
	}
	history, err := s.store.History(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "history")
		return nil, fmt.Errorf("load history: %w", err)
	}

	s.mu.RLock()
	systemPrompt, selector := s.systemPrompt, s.selector
	s.mu.RUnlock()

	decision := selector.Route(req.Prompt)
	span.SetAttributes(otel.AttrModel.String(decision.Model), otel.AttrRule.String(decision.Rule))
	result := &TurnResult{
		SessionID: sessionID,
		Model:     decision.Model,
		Rule:      decision.Rule,
		Created:   created,
	}

	safeMax, err := s.guard.SafeMaxTokens(systemPrompt, FormatHistory(history), req.Prompt, decision.Model)
	if errors.Is(err, tokens.ErrBudgetExceeded) {
		logger.Warn("prompt rejected by token guard", "model", decision.Model, "error", err)
		if s.metrics != nil {
			s.metrics.BudgetRejections.Add(ctx, 1)
		}
		span.SetStatus(codes.Error, "budget exceeded")
		result.BudgetExceeded = true
		result.Error = tokens.BudgetExceededMessage
		return result, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token count")
		return nil, err
	}

	maxTokens := safeMax
	if req.MaxTokens > 0 && req.MaxTokens < maxTokens {
		maxTokens = req.MaxTokens
	}
	result.MaxTokens = maxTokens
	span.SetAttributes(otel.AttrMaxTokens.Int(maxTokens))

	resp, err := s.complete(ctx, llm.Request{
		Model:       decision.Model,
		System:      systemPrompt,
		History:     toLLMHistory(history),
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		class := llm.ClassifyError(err)
		logger.Error("llm call failed", "model", decision.Model, "error_class", class, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(class))
		return nil, &CompletionError{Class: class, Err: err}
	}

	if err := s.store.AppendTurns(ctx, sessionID,
		session.Turn{Role: session.RoleUser, Content: req.Prompt},
		session.Turn{Role: session.RoleAssistant, Content: resp.Text},
	); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	s.metrics.RecordTurn(ctx, decision.Model, decision.Rule, resp.InputTokens, resp.OutputTokens)
	logger.Info("chat turn completed",
		"model", decision.Model,
		"rule", decision.Rule,
		"max_tokens", maxTokens,
		"created", created,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	result.Reply = resp.Text
	return result, nil
}

func (s *Service) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, span := otel.StartClientSpan(ctx, s.tracer, "llm.complete",
		otel.AttrModel.String(req.Model),
		otel.AttrMaxTokens.Int(req.MaxTokens),
	)
	defer span.End()

	start := time.Now()
	resp, err := s.completer.Complete(ctx, req)
	if s.metrics != nil {
		s.metrics.LLMCallDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.metrics.LLMErrors.Add(ctx, 1)
		}
	}
	if err != nil {
		span.SetAttributes(otel.AttrErrorClass.String(string(llm.ClassifyError(err))))
		return nil, err
	}
	span.SetAttributes(
		otel.AttrTokensInput.Int(resp.InputTokens),
		otel.AttrTokensOutput.Int(resp.OutputTokens),
	)
	return resp, nil
}

// History returns the turns of a session, or session.ErrNotFound.
func (s *Service) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	return s.store.History(ctx, sessionID)
}

// Sessions lists every session in creation order.
func (s *Service) Sessions(ctx context.Context) ([]session.Summary, error) {
	return s.store.List(ctx)
}

// FormatHistory renders turns as "role: content" lines for token counting.
func FormatHistory(turns []session.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func toLLMHistory(turns []session.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	return out
}
