package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/majordomo/pkg/observability"
)

const unauthenticatedBody = `{"status":false,"data":"Invalid auth token"}`

// Middleware requires an "Authorization: Bearer <api key>" header holding
// a key from store. The verified key is injected into the request context.
func Middleware(store *KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !store.Contains(token) {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				observability.AuthFailuresTotal.WithLabelValues("bearer").Inc()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(unauthenticatedBody))
				return
			}

			next.ServeHTTP(w, r.WithContext(SetAPIKey(r.Context(), token)))
		})
	}
}
