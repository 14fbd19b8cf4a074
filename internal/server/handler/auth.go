package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openlever/margind/internal/auth"
	"github.com/openlever/margind/internal/server/middleware"
)

// AuthHandler serves the magic-link sign-in flow: a signup endpoint that
// emails a signed link, and a verify endpoint that exchanges the link token
// for a session cookie.
type AuthHandler struct {
	tokens  *auth.Service
	mailer  auth.Mailer
	baseURL string
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler. baseURL is the externally reachable
// root of this gateway, used to build the links embedded in mail.
func NewAuthHandler(tokens *auth.Service, mailer auth.Mailer, baseURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:  tokens,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type signupRequest struct {
	Email string `json:"email"`
}

// Signup issues a magic link for the given email address. The response is
// identical whether or not the address was seen before; the account is
// materialized lazily on first trade.
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(email) {
		writeError(w, http.StatusBadRequest, "valid email required")
		return
	}

	token, err := h.tokens.IssueLinkToken(email)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: issue link token failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to issue sign-in link")
		return
	}

	link := fmt.Sprintf("%s/api/auth/verify?token=%s", h.baseURL, url.QueryEscape(token))
	body := fmt.Sprintf("Follow this link to sign in:\n\n%s\n\nThe link expires shortly. If you did not request it, ignore this mail.", link)

	if err := h.mailer.Send(r.Context(), email, "Your sign-in link", body); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: send magic link failed",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to send sign-in link")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "link sent"})
}

// Verify exchanges a magic-link token for a session cookie.
// GET /api/auth/verify?token=...
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token query parameter required")
		return
	}

	email, err := h.tokens.ParseToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired link")
		return
	}

	session, err := h.tokens.IssueSessionToken(email)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: issue session token failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session,
		Path:     "/",
		Expires:  time.Now().Add(h.tokens.SessionTTL()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "signed in",
		"owner":  email,
	})
}

// Profile returns the authenticated owner.
// GET /api/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"owner": middleware.Owner(r)})
}

// validEmail applies a minimal shape check; real validation happens when the
// link is delivered.
func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
