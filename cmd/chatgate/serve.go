package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/chatgate/internal/config"
	"github.com/basket/chatgate/internal/gateway"
	"github.com/basket/chatgate/internal/session"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override server.bind_addr")
	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, addr string) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if addr != "" {
		cfg.Server.BindAddr = addr
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "path", cfg.Path, "version", Version)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	if cfg.Store.StatsSchedule != "" {
		stats, err := session.NewStatsReporter(a.store, cfg.Store.StatsSchedule, logger,
			func(ctx context.Context, st session.Stats) {
				a.metrics.RecordStoreSize(ctx, st.Sessions, st.Turns)
			})
		if err != nil {
			return fatalStartup(logger, "E_STATS_SCHEDULE", err)
		}
		stats.Start()
		defer stats.Stop()
	}

	gw, err := gateway.New(gateway.Config{
		Chat:              a.service,
		Logger:            logger,
		Tracer:            a.otel.Tracer,
		Metrics:           a.metrics,
		BudgetErrorStatus: cfg.Gateway.BudgetErrorStatus,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		WebSocket:         cfg.Gateway.WebSocket,
		AllowOrigins:      cfg.Gateway.CORS.AllowedOrigins,
		CORS:              cfg.Gateway.CORS,
		Auth:              cfg.Gateway.Auth,
		RateLimit:         cfg.Gateway.RateLimit,
	})
	if err != nil {
		return fatalStartup(logger, "E_GATEWAY_INIT", err)
	}
	if cfg.Gateway.RateLimit.Enabled {
		gw.RateLimiter().StartEviction(ctx, 5*time.Minute, 10*time.Minute)
	}

	watcher := config.NewWatcher(logger, cfg.Path, cfg.SystemPromptPath())
	if err := watcher.Start(ctx); err != nil {
		return fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go watchConfig(watcher, a, cfg, flags, logger)

	server := &http.Server{
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", cfg.Server.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			err = fmt.Errorf("%w\n\n  Port is already in use. Stop the existing process or change server.bind_addr in config.yaml.", err)
		}
		return fatalStartup(logger, "E_LISTENER_BIND", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", ln.Addr().String(), "ws", cfg.Gateway.WebSocket)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		logger.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// watchConfig applies config.yaml and system prompt edits until the watcher
// closes its channel.
func watchConfig(w *config.Watcher, a *app, cfg config.Config, flags *globalFlags, logger *slog.Logger) {
	promptPath := cfg.SystemPromptPath()
	if abs, err := filepath.Abs(promptPath); err == nil && promptPath != "" {
		promptPath = abs
	}
	for ev := range w.Events() {
		logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
		if promptPath != "" && filepath.Clean(ev.Path) == filepath.Clean(promptPath) {
			data, err := os.ReadFile(ev.Path)
			if err != nil {
				logger.Warn("system prompt reload failed", "error", err)
				continue
			}
			if prompt := strings.TrimSpace(string(data)); prompt != "" {
				a.service.SetSystemPrompt(prompt)
				logger.Info("system prompt hot-reloaded")
			}
			continue
		}
		next, err := loadConfig(flags)
		if err != nil {
			logger.Error("config reload rejected; retaining previous config", "error", err)
			continue
		}
		a.applyReload(next)
	}
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return strings.Contains(err.Error(), "address already in use")
}
