package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

const corsPreflightMaxAge = 5 * 60

// localOrigins is the fallback when AFM_CORS_ORIGINS is unset.
var localOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// CORS applies the storefront origin policy. Entries may use one wildcard,
// e.g. "https://*.afm.shop". Headers the API sets for clients (request id,
// idempotent replay marker, rate-limit backoff) are exposed to scripts.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSuffix(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 {
		allowed = localOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, replayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           corsPreflightMaxAge,
	})
}
