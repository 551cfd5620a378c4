package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/chatgate/internal/config"
)

// corsExposed lists response headers browser clients may read: the trace id
// set by instrument and the rate limiter's Retry-After.
const corsExposed = "X-Trace-Id, Retry-After"

// corsHeaders returns the request headers a browser may send. Without an
// explicit list it allows JSON bodies and trace ids, plus the API key headers
// only when the gateway checks them.
func corsHeaders(cfg config.CORSConfig, auth config.AuthConfig) []string {
	if len(cfg.AllowedHeaders) > 0 {
		return cfg.AllowedHeaders
	}
	headers := []string{"Content-Type", "X-Trace-Id"}
	if auth.Enabled {
		headers = append(headers, "Authorization", "X-API-Key")
	}
	return headers
}

// NewCORSMiddleware lets browser clients on the configured origins call the
// chat API. Preflights are answered here; any other OPTIONS request reaches
// the router.
func NewCORSMiddleware(cfg config.CORSConfig, auth config.AuthConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	allowAll := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 3600
	}
	methodStr := strings.Join(methods, ", ")
	headerStr := strings.Join(corsHeaders(cfg, auth), ", ")
	maxAgeStr := strconv.Itoa(maxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && (allowAll || origins[origin])
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			preflight := r.Method == http.MethodOptions && origin != "" &&
				r.Header.Get("Access-Control-Request-Method") != ""

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if preflight {
					w.Header().Set("Access-Control-Allow-Methods", methodStr)
					w.Header().Set("Access-Control-Allow-Headers", headerStr)
					w.Header().Set("Access-Control-Max-Age", maxAgeStr)
				} else {
					w.Header().Set("Access-Control-Expose-Headers", corsExposed)
				}
			}
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestSizeLimitMiddleware caps request bodies at maxBytes.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
