package config_test

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/chatgate/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_DefaultsWhenNoConfig(t *testing.T) {
	t.Setenv("CHATGATE_HOME", filepath.Join(t.TempDir(), "home"))

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Tokens.TotalLimit != 4096 || cfg.Tokens.MinResponseBuffer != 500 {
		t.Fatalf("unexpected token defaults: %+v", cfg.Tokens)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0.6 {
		t.Fatalf("expected temperature 0.6, got %v", cfg.LLM.Temperature)
	}
	if cfg.Router.HighCapabilityModel != "gpt-4" || cfg.Router.FastModel != "gpt-3.5-turbo-1106" {
		t.Fatalf("unexpected router defaults: %+v", cfg.Router)
	}
	if cfg.Gateway.BudgetErrorStatus != http.StatusOK {
		t.Fatalf("expected budget status 200, got %d", cfg.Gateway.BudgetErrorStatus)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected memory store, got %q", cfg.Store.Driver)
	}
	if !strings.Contains(cfg.Chat.SystemPrompt, "angry chatbot") {
		t.Fatalf("unexpected system prompt %q", cfg.Chat.SystemPrompt)
	}
}

func TestLoad_FromFile(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	writeFile(t, path, `
server:
  bind_addr: 0.0.0.0:9000
  read_timeout: 10s
tokens:
  counter: estimate
  total_limit: 8192
  min_response_buffer: 1000
router:
  coding_keywords: [sql, regex]
  high_capability_model: gpt-4o
store:
  driver: sqlite
gateway:
  budget_error_status: 422
`)
	writeFile(t, filepath.Join(home, "SYSTEM.md"), "  Be polite.\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BindAddr != "0.0.0.0:9000" || cfg.Server.ReadTimeout != 10*time.Second {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Tokens.Counter != "estimate" || cfg.Tokens.TotalLimit != 8192 || cfg.Tokens.MinResponseBuffer != 1000 {
		t.Fatalf("unexpected tokens config: %+v", cfg.Tokens)
	}
	if len(cfg.Router.CodingKeywords) != 2 || cfg.Router.HighCapabilityModel != "gpt-4o" {
		t.Fatalf("unexpected router config: %+v", cfg.Router)
	}
	if cfg.Router.FastModel != "gpt-3.5-turbo-1106" {
		t.Fatalf("unset router fields should keep defaults, got %q", cfg.Router.FastModel)
	}
	if cfg.Store.Path != filepath.Join(home, "sessions.db") {
		t.Fatalf("unexpected sqlite path %q", cfg.Store.Path)
	}
	if cfg.Gateway.BudgetErrorStatus != 422 {
		t.Fatalf("unexpected budget status %d", cfg.Gateway.BudgetErrorStatus)
	}
	if cfg.Chat.SystemPrompt != "Be polite." {
		t.Fatalf("expected prompt file to override, got %q", cfg.Chat.SystemPrompt)
	}
}

func TestLoad_ExplicitZeroTemperatureKept(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	writeFile(t, path, "llm:\n  temperature: 0\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0 {
		t.Fatalf("expected explicit temperature 0, got %v", cfg.LLM.Temperature)
	}

	t.Setenv("CHATGATE_LLM_TEMPERATURE", "0")
	writeFile(t, path, "llm:\n  temperature: 1.2\n")
	cfg, err = config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg.LLM.Temperature != 0 {
		t.Fatalf("expected env temperature 0 to win, got %v", *cfg.LLM.Temperature)
	}

	t.Setenv("CHATGATE_LLM_TEMPERATURE", "3")
	if _, err := config.Load(path); err == nil || !strings.Contains(err.Error(), "llm.temperature") {
		t.Fatalf("expected temperature range error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	writeFile(t, path, "llm:\n  api_key: from-yaml\n")

	t.Setenv("OPENAI_API_KEY", "from-openai-env")
	t.Setenv("CHATGATE_SERVER_BIND_ADDR", "127.0.0.1:7777")
	t.Setenv("CHATGATE_TOKENS_TOTAL_LIMIT", "2048")
	t.Setenv("CHATGATE_ROUTER_CASUAL_KEYWORDS", "yo,sup")
	t.Setenv("CHATGATE_GATEWAY_RATE_LIMIT_ENABLED", "true")
	t.Setenv("CHATGATE_OTEL_EXPORTER", "stdout")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "from-openai-env" {
		t.Fatalf("expected OPENAI_API_KEY to override yaml, got %q", cfg.LLM.APIKey)
	}
	if cfg.Server.BindAddr != "127.0.0.1:7777" {
		t.Fatalf("unexpected bind addr %q", cfg.Server.BindAddr)
	}
	if cfg.Tokens.TotalLimit != 2048 {
		t.Fatalf("unexpected total limit %d", cfg.Tokens.TotalLimit)
	}
	if got := strings.Join(cfg.Router.CasualKeywords, "|"); got != "yo|sup" {
		t.Fatalf("unexpected casual keywords %q", got)
	}
	if !cfg.Gateway.RateLimit.Enabled {
		t.Fatal("expected rate limit enabled from env")
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Fatalf("unexpected exporter %q", cfg.Telemetry.Exporter)
	}

	t.Setenv("CHATGATE_LLM_API_KEY", "from-prefixed-env")
	cfg, err = config.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LLM.APIKey != "from-prefixed-env" {
		t.Fatalf("expected prefixed key to win, got %q", cfg.LLM.APIKey)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	writeFile(t, path, `
llm:
  client: carrier-pigeon
tokens:
  total_limit: 100
  min_response_buffer: 100
store:
  driver: redis
`)
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"llm.client", "min_response_buffer", "store.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in error %v", want, err)
		}
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server: [unclosed\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	a := config.Default()
	b := config.Default()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("fingerprint not stable")
	}
	b.Tokens.TotalLimit = 8192
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprint ignored total limit")
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	path, err := config.WriteDefault(home)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg.Fingerprint() != config.Default().Fingerprint() {
		t.Fatalf("written default does not load back to defaults")
	}
	if _, err := config.WriteDefault(home); err == nil {
		t.Fatal("expected error when config exists")
	}
}
