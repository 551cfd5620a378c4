package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/basket/chatgate/internal/chat"
	"github.com/basket/chatgate/internal/config"
	"github.com/basket/chatgate/internal/llm"
	"github.com/basket/chatgate/internal/otel"
	"github.com/basket/chatgate/internal/router"
	"github.com/basket/chatgate/internal/session"
	"github.com/basket/chatgate/internal/tokens"
)

// app holds the wired components shared by serve and ask.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	otel    *otel.Provider
	metrics *otel.Metrics
	store   session.Store
	service *chat.Service
}

func newGuard(cfg config.Config) (*tokens.Guard, error) {
	counter, err := tokens.NewCounter(cfg.Tokens.Counter)
	if err != nil {
		return nil, err
	}
	return tokens.NewGuard(counter, cfg.Tokens.TotalLimit, cfg.Tokens.MinResponseBuffer)
}

// newApp wires store, guard, selector and completer into a chat service.
// The caller owns app.close.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	provider, err := otel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fatalStartup(logger, "E_OTEL_INIT", err)
	}
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fatalStartup(logger, "E_OTEL_INIT", err)
	}

	a := &app{cfg: cfg, logger: logger, otel: provider, metrics: metrics}
	fail := func(code string, err error) (*app, error) {
		a.close(ctx)
		return nil, fatalStartup(logger, code, err)
	}

	a.store, err = session.Open(ctx, cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fail("E_STORE_OPEN", err)
	}
	guard, err := newGuard(cfg)
	if err != nil {
		return fail("E_TOKEN_GUARD", err)
	}
	completer, err := llm.New(ctx, llm.Config{
		Client:   cfg.LLM.Client,
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return fail("E_LLM_INIT", err)
	}
	a.service, err = chat.New(chat.Options{
		Store:        a.store,
		Guard:        guard,
		Completer:    completer,
		Selector:     router.New(cfg.Router),
		SystemPrompt: cfg.Chat.SystemPrompt,
		Temperature:  cfg.LLM.Temperature,
		Logger:       logger,
		Tracer:       provider.Tracer,
		Metrics:      metrics,
	})
	if err != nil {
		return fail("E_CHAT_INIT", err)
	}
	logger.Info("startup phase", "phase", "service_ready",
		"llm_client", cfg.LLM.Client,
		"store", cfg.Store.Driver,
		"counter", cfg.Tokens.Counter,
		"config_fingerprint", cfg.Fingerprint(),
	)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close session store", "error", err)
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("otel shutdown", "error", err)
		}
	}
}

// applyReload swaps the hot-reloadable parts of cfg into the service.
func (a *app) applyReload(cfg config.Config) {
	a.service.SetSelector(router.New(cfg.Router))
	a.service.SetSystemPrompt(cfg.Chat.SystemPrompt)
	a.logger.Info("config hot-reloaded", "config_fingerprint", cfg.Fingerprint())
}

func describeBudget(guard *tokens.Guard, systemPrompt, prompt, model string) (string, error) {
	n, err := guard.SafeMaxTokens(systemPrompt, "", prompt, model)
	if err != nil {
		var be *tokens.BudgetError
		if errors.As(err, &be) {
			return fmt.Sprintf("budget exceeded (used=%d remaining=%d buffer=%d)", be.Used, be.Remaining, be.Buffer), nil
		}
		return "", err
	}
	return strconv.Itoa(n), nil
}
