package shared

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTraceID_Default(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx := WithTraceID(context.Background(), "abc")
	if got := TraceID(ctx); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := SessionID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithSessionID(ctx, "s-1")
	if got := SessionID(ctx); got != "s-1" {
		t.Fatalf("expected s-1, got %q", got)
	}
}

func TestNewIDs_Unique(t *testing.T) {
	if NewTraceID() == NewTraceID() {
		t.Fatal("trace ids collided")
	}
	if NewSessionID() == NewSessionID() {
		t.Fatal("session ids collided")
	}
}

func TestLogger_AddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithSessionID(WithTraceID(context.Background(), "tr-9"), "s-2")
	Logger(ctx, base).Info("hello")
	out := buf.String()
	if !strings.Contains(out, "trace_id=tr-9") || !strings.Contains(out, "session_id=s-2") {
		t.Fatalf("missing context attrs: %s", out)
	}
}
