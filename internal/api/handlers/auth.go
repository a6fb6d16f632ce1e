package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/andrew/avatar-studio/internal/auth"
	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/logger"
)

// AuthHandler exchanges a guest session for a bearer token
type AuthHandler struct {
	db     *database.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewAuthHandler creates a new guest token handler
func NewAuthHandler(db *database.DB, secret []byte, ttl time.Duration, log *slog.Logger) *AuthHandler {
	return &AuthHandler{db: db, secret: secret, ttl: ttl, now: time.Now, log: log}
}

// GuestTokenRequest identifies the session to authenticate
type GuestTokenRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// GuestTokenResponse carries the signed token
type GuestTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

// HandleGuestToken handles POST /auth/guest
func (h *AuthHandler) HandleGuestToken(w http.ResponseWriter, r *http.Request) {
	var req GuestTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "session_id and user_id are required")
		return
	}

	session, err := h.db.GetAnonymousSession(r.Context(), req.SessionID, req.UserID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to look up session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unknown session")
		return
	}

	token, expires, err := auth.IssueGuestToken(h.secret, session.ID, session.SessionID, h.ttl, h.now())
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to issue guest token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, GuestTokenResponse{Token: token, ExpiresAt: expires, UserID: session.ID})
}
