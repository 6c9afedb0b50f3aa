package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"spotmirror/internal/apperr"
	"spotmirror/internal/auth"
	"spotmirror/internal/models"
)

type contextKey string

const accountKey contextKey = "account"

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func credentialsFrom(r *http.Request) auth.Credentials {
	c := auth.Credentials{Bearer: bearerToken(r)}
	c.Username, c.Password, c.HasBasic = r.BasicAuth()

	return c
}

// Authenticate resolves the caller from an access token or basic auth and stores the account in the context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, err := h.svc.Auth.Resolve(credentialsFrom(r))
		if err != nil {
			h.respondErr(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, acc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers other than the admin. Must run after Authenticate.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, ok := AccountFrom(r.Context())
		if !ok || !acc.IsAdmin() {
			h.respondErr(w, r, fmt.Errorf("admin only: %w", apperr.ErrForbidden))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AccountFrom returns the authenticated account stored by Authenticate.
func AccountFrom(ctx context.Context) (models.UserAccount, bool) {
	acc, ok := ctx.Value(accountKey).(models.UserAccount)
	return acc, ok
}

// CORS allows browser frontends on other origins.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
