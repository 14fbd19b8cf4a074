package middleware

import (
	"context"
	"net/http"
	"strings"
)

// SessionCookie is the cookie carrying the signed session token.
const SessionCookie = "margind_session"

type contextKey string

const ownerKey contextKey = "owner"

// TokenParser validates a session token and returns the owner it belongs to.
type TokenParser interface {
	ParseToken(token string) (string, error)
}

// Session returns middleware that authenticates requests using the session
// cookie set by the magic-link verify endpoint, or a Bearer token in the
// Authorization header. The resolved owner is stored in the request context
// and readable via Owner.
func Session(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				writeUnauthorized(w, "missing session token")
				return
			}

			owner, err := parser.ParseToken(token)
			if err != nil {
				writeUnauthorized(w, "invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), ownerKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Owner returns the authenticated owner stored by Session, or "" when the
// request did not pass through the middleware.
func Owner(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

// extractSessionToken looks for a token in the session cookie or in the
// Authorization header (Bearer scheme).
func extractSessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
