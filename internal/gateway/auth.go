package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/basket/chatgate/internal/config"
)

type authContextKey struct{}

// AuthMiddleware checks client API keys. Disabled unless configured.
type AuthMiddleware struct {
	keys    []config.APIKeyEntry
	enabled bool
}

func NewAuthMiddleware(cfg config.AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		keys:    append([]config.APIKeyEntry(nil), cfg.Keys...),
		enabled: cfg.Enabled,
	}
}

func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if !am.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		key := ExtractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		entry, ok := am.lookupKey(key)
		if !ok {
			writeError(w, http.StatusForbidden, "invalid API key")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, entry)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractAPIKey checks, in order: Authorization: Bearer <key>, the
// X-API-Key header and the api_key query param (for WebSocket clients).
func ExtractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// lookupKey compares every key in constant time.
func (am *AuthMiddleware) lookupKey(candidate string) (config.APIKeyEntry, bool) {
	var found config.APIKeyEntry
	ok := false
	for _, entry := range am.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(entry.Key)) == 1 {
			found, ok = entry, true
		}
	}
	return found, ok
}

// KeyNameFromContext returns the name of the API key that authenticated
// the request, or "".
func KeyNameFromContext(ctx context.Context) string {
	if entry, ok := ctx.Value(authContextKey{}).(config.APIKeyEntry); ok {
		return entry.Name
	}
	return ""
}
