package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/chatgate/internal/config"
	"github.com/basket/chatgate/internal/router"
	"github.com/basket/chatgate/internal/session"
	"github.com/basket/chatgate/internal/tokens"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

const defaultAPIHost = "api.openai.com"

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// Options selects the checks Run performs. Network lookups are opt-out so
// tests and offline hosts can skip them.
type Options struct {
	Version     string
	LoadErr     error
	SkipNetwork bool
}

// Run executes every diagnostic check against cfg. A nil cfg skips the
// checks that need it.
func Run(ctx context.Context, cfg *config.Config, opts Options) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: opts.Version,
		},
	}

	d.Results = append(d.Results,
		checkConfig(cfg, opts.LoadErr),
		checkAPIKey(cfg),
		checkTokenizer(cfg),
		checkStore(ctx, cfg),
		checkPermissions(cfg),
	)
	if opts.SkipNetwork {
		d.Results = append(d.Results, CheckResult{Name: "Network", Status: StatusSkip, Message: "Disabled"})
	} else {
		d.Results = append(d.Results, checkNetwork(ctx, cfg))
	}
	return d
}

func checkConfig(cfg *config.Config, loadErr error) CheckResult {
	if loadErr != nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration invalid", Detail: loadErr.Error()}
	}
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		return CheckResult{
			Name:    "Config",
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not found, using defaults", cfg.Path),
			Detail:  "Run `chatgate init` to write one",
		}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s (%s)", cfg.Path, cfg.Fingerprint())}
}

func checkAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: StatusSkip, Message: "Config missing"}
	}
	if strings.TrimSpace(cfg.LLM.APIKey) != "" {
		return CheckResult{Name: "API Key", Status: StatusPass, Message: fmt.Sprintf("Key configured for %s client", cfg.LLM.Client)}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  StatusFail,
		Message: "No API key configured",
		Detail:  "Set OPENAI_API_KEY, " + config.EnvPrefix + "LLM_API_KEY or llm.api_key",
	}
}

// checkTokenizer makes sure every model the router can pick has a tokenizer.
func checkTokenizer(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Tokenizer", Status: StatusSkip, Message: "Config missing"}
	}
	counter, err := tokens.NewCounter(cfg.Tokens.Counter)
	if err != nil {
		return CheckResult{Name: "Tokenizer", Status: StatusFail, Message: err.Error()}
	}
	models := router.New(cfg.Router).Models()
	var failed []string
	for _, model := range models {
		if _, err := counter.Count("ping", model); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", model, err))
		}
	}
	if len(failed) > 0 {
		return CheckResult{
			Name:    "Tokenizer",
			Status:  StatusFail,
			Message: fmt.Sprintf("%d of %d models cannot be tokenized", len(failed), len(models)),
			Detail:  strings.Join(failed, "; "),
		}
	}
	return CheckResult{
		Name:    "Tokenizer",
		Status:  StatusPass,
		Message: fmt.Sprintf("%s counter covers %s", cfg.Tokens.Counter, strings.Join(models, ", ")),
	}
}

func checkStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Session Store", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.Store.Driver == session.DriverMemory {
		return CheckResult{Name: "Session Store", Status: StatusPass, Message: "In-memory store (history is lost on restart)"}
	}
	store, err := session.Open(ctx, cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return CheckResult{Name: "Session Store", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return CheckResult{Name: "Session Store", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{
		Name:    "Session Store",
		Status:  StatusPass,
		Message: fmt.Sprintf("%s at %s", cfg.Store.Driver, cfg.Store.Path),
		Detail:  fmt.Sprintf("sessions=%d turns=%d", st.Sessions, st.Turns),
	}
}

func checkPermissions(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	if _, err := os.Stat(cfg.HomeDir); os.IsNotExist(err) {
		return CheckResult{Name: "Permissions", Status: StatusWarn, Message: fmt.Sprintf("Home dir %s does not exist", cfg.HomeDir)}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	_ = os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

// apiHost returns the host the completion client will call.
func apiHost(cfg *config.Config) string {
	if cfg.LLM.BaseURL == "" {
		return defaultAPIHost
	}
	u, err := url.Parse(cfg.LLM.BaseURL)
	if err != nil || u.Hostname() == "" {
		return defaultAPIHost
	}
	return u.Hostname()
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	host := apiHost(cfg)

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("addresses=%v", addrs),
	}
}
