package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/chatgate/internal/chat"
	"github.com/basket/chatgate/internal/config"
	"github.com/basket/chatgate/internal/otel"
	"github.com/basket/chatgate/internal/session"
	"github.com/basket/chatgate/internal/shared"
)

// ChatService is the part of chat.Service the HTTP layer needs.
type ChatService interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
	History(ctx context.Context, sessionID string) ([]session.Turn, error)
	Sessions(ctx context.Context) ([]session.Summary, error)
}

type Config struct {
	Chat    ChatService
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otel.Metrics

	// BudgetErrorStatus is written with the {error} body when the token
	// guard rejects a prompt.
	BudgetErrorStatus int
	MaxBodyBytes      int64
	WebSocket         bool
	// AllowOrigins lists extra origin patterns accepted on /ws.
	AllowOrigins []string

	CORS      config.CORSConfig
	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig
}

type Server struct {
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	schema    *requestSchema
	rateLimit *RateLimitMiddleware
}

func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otel.ScopeName)
	}
	if cfg.BudgetErrorStatus == 0 {
		cfg.BudgetErrorStatus = http.StatusOK
	}
	schema, err := compileRequestSchema()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "gateway"),
		tracer:    cfg.Tracer,
		schema:    schema,
		rateLimit: NewRateLimitMiddleware(cfg.RateLimit),
	}
	if m := cfg.Metrics; m != nil {
		s.rateLimit.onReject = func(r *http.Request) {
			m.RateLimitRejects.Add(r.Context(), 1)
		}
	}
	return s, nil
}

// RateLimiter exposes the limiter so the caller can run its eviction loop.
func (s *Server) RateLimiter() *RateLimitMiddleware {
	return s.rateLimit
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/{$}", s.handleChat)
	mux.HandleFunc("GET /chat/{session_id}", s.handleHistory)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.cfg.WebSocket {
		mux.HandleFunc("GET /ws", s.handleWS)
	}

	var h http.Handler = mux
	h = s.rateLimit.Wrap(h)
	h = NewAuthMiddleware(s.cfg.Auth).Wrap(h)
	h = NewCORSMiddleware(s.cfg.CORS, s.cfg.Auth)(h)
	h = RequestSizeLimitMiddleware(s.cfg.MaxBodyBytes)(h)
	h = s.instrument(h)
	return h
}

// instrument assigns a trace id, opens a server span and records the
// request duration.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = shared.NewTraceID()
		}
		ctx := shared.WithTraceID(r.Context(), traceID)
		ctx, span := otel.StartServerSpan(ctx, s.tracer, r.Method+" "+r.URL.Path,
			otel.AttrRoute.String(r.URL.Path),
		)
		defer span.End()

		w.Header().Set("X-Trace-Id", traceID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(otel.AttrStatus.Int(rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		if m := s.cfg.Metrics; m != nil {
			m.RequestDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(otel.AttrStatus.Int(rec.status)))
		}
		shared.Logger(ctx, s.logger).Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the /ws upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := true
	sessions, err := s.cfg.Chat.Sessions(r.Context())
	if err != nil {
		s.logger.Error("healthz: list sessions", "error", err)
		healthy = false
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":  healthy,
		"sessions": len(sessions),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
