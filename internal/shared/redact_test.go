package shared

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bearer token", "Bearer abc123def456ghi789jkl0", "Bearer [REDACTED]"},
		{"openai key", "using sk-proj-abcdefghijklmnopqrstuvwx now", "using [REDACTED] now"},
		{"no secret", "this is a normal log message", "this is a normal log message"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.input); got != tt.want {
				t.Fatalf("Redact(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedact_APIKeyKeepsPrefix(t *testing.T) {
	got := Redact(`api_key=abcdef1234567890abcdef`)
	if !strings.HasPrefix(got, "api_key") || !strings.Contains(got, "[REDACTED]") {
		t.Fatalf("unexpected redaction %q", got)
	}
}

func TestRedactEnvValue(t *testing.T) {
	if got := RedactEnvValue("OPENAI_API_KEY", "sk-123"); got != "[REDACTED]" {
		t.Fatalf("expected redaction, got %q", got)
	}
	if got := RedactEnvValue("CHATGATE_BIND_ADDR", "127.0.0.1:8000"); got != "127.0.0.1:8000" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
