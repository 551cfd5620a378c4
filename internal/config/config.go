package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/basket/chatgate/internal/otel"
	"github.com/basket/chatgate/internal/router"
)

// EnvPrefix prefixes every chatgate environment override.
const EnvPrefix = "CHATGATE_"

const configFileName = "config.yaml"

type ServerConfig struct {
	BindAddr        string        `yaml:"bind_addr" env:"BIND_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

type LLMConfig struct {
	// Client is "genkit" (default) or "openai".
	Client      string  `yaml:"client" env:"CLIENT"`
	Provider    string  `yaml:"provider" env:"PROVIDER"`
	APIKey      string  `yaml:"api_key" env:"API_KEY"`
	BaseURL     string  `yaml:"base_url" env:"BASE_URL"`
	// Temperature is nil when unset; an explicit 0 is kept.
	Temperature *float64 `yaml:"temperature" env:"TEMPERATURE"`
}

type TokensConfig struct {
	// Counter is "tiktoken" (default) or "estimate".
	Counter           string `yaml:"counter" env:"COUNTER"`
	TotalLimit        int    `yaml:"total_limit" env:"TOTAL_LIMIT"`
	MinResponseBuffer int    `yaml:"min_response_buffer" env:"MIN_RESPONSE_BUFFER"`
}

type ChatConfig struct {
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// SystemPromptFile, relative to the home dir, overrides SystemPrompt
	// when the file exists.
	SystemPromptFile string `yaml:"system_prompt_file" env:"SYSTEM_PROMPT_FILE"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver" env:"DRIVER"`
	Path          string `yaml:"path" env:"PATH"`
	StatsSchedule string `yaml:"stats_schedule" env:"STATS_SCHEDULE"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" env:"ENABLED"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `yaml:"allowed_methods" env:"ALLOWED_METHODS" envSeparator:","`
	AllowedHeaders []string `yaml:"allowed_headers" env:"ALLOWED_HEADERS" envSeparator:","`
	MaxAge         int      `yaml:"max_age" env:"MAX_AGE"`
}

type APIKeyEntry struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type AuthConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Keys    []APIKeyEntry `yaml:"keys"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"ENABLED"`
	RequestsPerMinute int  `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	BurstSize         int  `yaml:"burst_size" env:"BURST_SIZE"`
}

type GatewayConfig struct {
	// BudgetErrorStatus is the HTTP status for a prompt rejected by the
	// token guard. 200 keeps the error in an otherwise successful body.
	BudgetErrorStatus int             `yaml:"budget_error_status" env:"BUDGET_ERROR_STATUS"`
	WebSocket         bool            `yaml:"websocket" env:"WEBSOCKET"`
	CORS              CORSConfig      `yaml:"cors" envPrefix:"CORS_"`
	Auth              AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "auto" (text on a terminal, JSON otherwise), "json" or "text".
	Format string `yaml:"format" env:"FORMAT"`
	// File, when set, also receives every record as JSON lines.
	File string `yaml:"file" env:"FILE"`
}

type Config struct {
	HomeDir string `yaml:"-"`
	Path    string `yaml:"-"`

	Server    ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	LLM       LLMConfig     `yaml:"llm" envPrefix:"LLM_"`
	Tokens    TokensConfig  `yaml:"tokens" envPrefix:"TOKENS_"`
	Router    router.Config `yaml:"router" envPrefix:"ROUTER_"`
	Chat      ChatConfig    `yaml:"chat" envPrefix:"CHAT_"`
	Store     StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Gateway   GatewayConfig `yaml:"gateway" envPrefix:"GATEWAY_"`
	Log       LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Telemetry otel.Config   `yaml:"telemetry" envPrefix:"OTEL_"`
}

// openAIEnv holds the unprefixed variables OpenAI tooling conventionally reads.
type openAIEnv struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddr:        "127.0.0.1:8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		LLM: LLMConfig{
			Client:      "genkit",
			Provider:    "openai",
			Temperature: ptr(0.6),
		},
		Tokens: TokensConfig{
			Counter:           "tiktoken",
			TotalLimit:        4096,
			MinResponseBuffer: 500,
		},
		Router: router.DefaultConfig(),
		Chat: ChatConfig{
			SystemPrompt:     "You are an angry chatbot having a conversation with me.",
			SystemPromptFile: "SYSTEM.md",
		},
		Store: StoreConfig{
			Driver:        "memory",
			StatsSchedule: "@every 10m",
		},
		Gateway: GatewayConfig{
			BudgetErrorStatus: http.StatusOK,
			WebSocket:         true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// HomeDir is $CHATGATE_HOME, or ~/.chatgate.
func HomeDir() string {
	if override := os.Getenv("CHATGATE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".chatgate")
}

// ConfigPath returns the config file inside homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, configFileName)
}

// Load reads path (or the home config when path is empty), applies
// environment overrides, fills defaults and validates. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	cfg.HomeDir = HomeDir()
	if path == "" {
		path = ConfigPath(cfg.HomeDir)
	} else {
		cfg.HomeDir = filepath.Dir(path)
	}
	cfg.Path = path

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	loadTextFiles(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var oai openAIEnv
	if err := env.Parse(&oai); err != nil {
		return fmt.Errorf("parse OPENAI_* env: %w", err)
	}
	if oai.APIKey != "" {
		cfg.LLM.APIKey = oai.APIKey
	}
	if oai.BaseURL != "" {
		cfg.LLM.BaseURL = oai.BaseURL
	}
	// Prefixed variables win over the OPENAI_* ones.
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse %s* env: %w", EnvPrefix, err)
	}
	return nil
}

// SystemPromptPath resolves the prompt file against the home dir.
func (c Config) SystemPromptPath() string {
	p := strings.TrimSpace(c.Chat.SystemPromptFile)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomeDir, p)
}

func loadTextFiles(cfg *Config) {
	if p := cfg.SystemPromptPath(); p != "" {
		if b, err := os.ReadFile(p); err == nil && strings.TrimSpace(string(b)) != "" {
			cfg.Chat.SystemPrompt = strings.TrimSpace(string(b))
		}
	}
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = def.Server.BindAddr
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = def.Server.MaxBodyBytes
	}
	cfg.LLM.Client = strings.ToLower(strings.TrimSpace(cfg.LLM.Client))
	if cfg.LLM.Client == "" {
		cfg.LLM.Client = def.LLM.Client
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Temperature == nil {
		cfg.LLM.Temperature = def.LLM.Temperature
	}
	cfg.Tokens.Counter = strings.ToLower(strings.TrimSpace(cfg.Tokens.Counter))
	if cfg.Tokens.Counter == "" {
		cfg.Tokens.Counter = def.Tokens.Counter
	}
	if cfg.Tokens.TotalLimit == 0 {
		cfg.Tokens.TotalLimit = def.Tokens.TotalLimit
	}
	if strings.TrimSpace(cfg.Chat.SystemPrompt) == "" {
		cfg.Chat.SystemPrompt = def.Chat.SystemPrompt
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.HomeDir, "sessions.db")
	}
	if cfg.Gateway.BudgetErrorStatus == 0 {
		cfg.Gateway.BudgetErrorStatus = def.Gateway.BudgetErrorStatus
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Client {
	case "genkit", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.client: unknown client %q", c.LLM.Client))
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature must be in [0, 2], got %v", *t))
	}
	switch c.Tokens.Counter {
	case "tiktoken", "estimate":
	default:
		errs = append(errs, fmt.Errorf("tokens.counter: unknown counter %q", c.Tokens.Counter))
	}
	if c.Tokens.TotalLimit <= 0 {
		errs = append(errs, fmt.Errorf("tokens.total_limit must be positive, got %d", c.Tokens.TotalLimit))
	}
	if c.Tokens.MinResponseBuffer < 0 || c.Tokens.MinResponseBuffer >= c.Tokens.TotalLimit {
		errs = append(errs, fmt.Errorf("tokens.min_response_buffer must be in [0, total_limit), got %d", c.Tokens.MinResponseBuffer))
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if s := c.Gateway.BudgetErrorStatus; s < 200 || s > 599 {
		errs = append(errs, fmt.Errorf("gateway.budget_error_status: invalid HTTP status %d", s))
	}
	switch c.Log.Format {
	case "auto", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Fingerprint returns a stable hash of the settings that shape request handling.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|client=%s|counter=%s|limit=%d|buffer=%d|models=%s,%s,%s|store=%s|budget_status=%d",
		c.Server.BindAddr, c.LLM.Client, c.Tokens.Counter, c.Tokens.TotalLimit, c.Tokens.MinResponseBuffer,
		c.Router.HighCapabilityModel, c.Router.FastModel, c.Router.DefaultModel,
		c.Store.Driver, c.Gateway.BudgetErrorStatus)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// WriteDefault writes the default config to homeDir/config.yaml unless a
// file already exists there.
func WriteDefault(homeDir string) (string, error) {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return path, fmt.Errorf("create chatgate home: %w", err)
	}
	out, err := yaml.Marshal(Default())
	if err != nil {
		return path, fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return path, fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func ptr[T any](v T) *T { return &v }
