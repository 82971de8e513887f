package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/headless"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

// NewAuthMiddleware enforces Authorization: Bearer <apiKey> for every endpoint
// except /healthz.
func NewAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			authz := r.Header.Get("Authorization")
			if authz == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header", nil)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
				return
			}
			got := []byte(strings.TrimSpace(strings.TrimPrefix(authz, prefix)))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionMiddleware resolves the {token} path parameter to an open session.
func sessionMiddleware(sessions Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "token"))
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "session token must be a UUID", nil)
				return
			}
			s, err := sessions.Get(domain.SessionToken(id.String()))
			if errors.Is(err, headless.ErrSessionNotFound) {
				writeError(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
				return
			}
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "INTERNAL", "session lookup failed", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}
