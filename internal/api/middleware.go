// Package api implements the coherence monitor REST API using chi.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const kindUnauthorized = "unauthorized"

// AuthMiddleware checks "Authorization: Bearer <token>" when enabled.
// Rejections carry a WWW-Authenticate challenge and the same error body as
// every other API failure.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Warn("request rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote", r.RemoteAddr),
					slog.Bool("has_credentials", ok))
				w.Header().Set("WWW-Authenticate", `Bearer realm="coherence"`)
				writeJSON(w, http.StatusUnauthorized, errResponse{Error: "missing or invalid bearer token", Kind: kindUnauthorized})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
