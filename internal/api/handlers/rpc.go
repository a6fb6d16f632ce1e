package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andrew/avatar-studio/internal/api/middleware"
	"github.com/andrew/avatar-studio/internal/config"
	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/logger"
)

// Procedure error messages. Clients match on the "Device blocked" prefix.
const (
	msgDeviceBlocked      = "Device blocked: this device has reached the maximum number of free sessions"
	msgInsufficientTokens = "Insufficient tokens"
	msgSessionNotFound    = "Session not found"
)

// RPCHandler serves the session procedures under /rpc/{name}
type RPCHandler struct {
	db    *database.DB
	guest config.GuestConfig
	admin *middleware.AdminAuth
	log   *slog.Logger
}

// NewRPCHandler creates a new procedure handler
func NewRPCHandler(db *database.DB, guest config.GuestConfig, admin *middleware.AdminAuth, log *slog.Logger) *RPCHandler {
	return &RPCHandler{db: db, guest: guest, admin: admin, log: log.With(logger.Component("rpc"))}
}

// respondRPCError sends a procedure error in the {"message"} shape
func respondRPCError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// CreateSessionParams are the create_anonymous_session arguments
type CreateSessionParams struct {
	FingerprintHash  string `json:"fingerprint_hash_param"`
	SessionID        string `json:"session_id_param"`
	UserAgent        string `json:"user_agent_param"`
	ScreenResolution string `json:"screen_resolution_param"`
	Timezone         string `json:"timezone_param"`
	Language         string `json:"language_param"`
	Platform         string `json:"platform_param"`
}

// GetSessionParams are the get_anonymous_session arguments
type GetSessionParams struct {
	SessionID string `json:"session_id_param"`
	UserID    string `json:"user_id_param"`
}

// ConsumeParams are the consume_anonymous_tokens arguments
type ConsumeParams struct {
	UserID   string `json:"user_id_param"`
	Tokens   int    `json:"tokens_param"`
	Activity string `json:"activity_param"`
}

// ConsumeResult is the consume_anonymous_tokens result
type ConsumeResult struct {
	Success         bool `json:"success"`
	RemainingTokens int  `json:"remaining_tokens"`
	UsedTokens      int  `json:"used_tokens"`
	TotalTokens     int  `json:"total_tokens"`
}

// HandleRPC handles POST /rpc/{name}
func (h *RPCHandler) HandleRPC(w http.ResponseWriter, r *http.Request) {
	switch name := chi.URLParam(r, "name"); name {
	case "create_anonymous_session":
		h.createSession(w, r)
	case "get_anonymous_session":
		h.getSession(w, r)
	case "get_anonymous_session_by_id":
		h.getSessionByID(w, r)
	case "is_admin":
		h.isAdmin(w, r)
	default:
		respondRPCError(w, http.StatusNotFound, "Could not find the function "+name)
	}
}

func (h *RPCHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var p CreateSessionParams
	if err := decodeJSON(w, r, &p); err != nil {
		respondRPCError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.FingerprintHash == "" || p.SessionID == "" {
		respondRPCError(w, http.StatusBadRequest, "fingerprint_hash_param and session_id_param are required")
		return
	}

	userID, err := h.db.CreateAnonymousSession(r.Context(), models.NewSession{
		FingerprintHash:  p.FingerprintHash,
		SessionID:        p.SessionID,
		UserAgent:        p.UserAgent,
		ScreenResolution: p.ScreenResolution,
		Timezone:         p.Timezone,
		Language:         p.Language,
		Platform:         p.Platform,
	}, h.guest.StartingTokens, h.guest.MaxSessionsPerDevice)

	switch {
	case errors.Is(err, database.ErrDeviceBlocked):
		h.log.InfoContext(r.Context(), "guest session refused", logger.Fingerprint(p.FingerprintHash))
		respondRPCError(w, http.StatusForbidden, msgDeviceBlocked)
		return
	case errors.Is(err, database.ErrDuplicateSession):
		respondRPCError(w, http.StatusConflict, "Session id already exists")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondRPCError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.log.InfoContext(r.Context(), "guest session created",
		logger.UserID(userID), logger.SessionID(p.SessionID), logger.Fingerprint(p.FingerprintHash))
	respondJSON(w, http.StatusOK, userID)
}

func (h *RPCHandler) getSession(w http.ResponseWriter, r *http.Request) {
	var p GetSessionParams
	if err := decodeJSON(w, r, &p); err != nil {
		respondRPCError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.db.GetAnonymousSession(r.Context(), p.SessionID, p.UserID)
	h.respondRows(w, r, session, err)
}

func (h *RPCHandler) getSessionByID(w http.ResponseWriter, r *http.Request) {
	var p GetSessionParams
	if err := decodeJSON(w, r, &p); err != nil {
		respondRPCError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.db.GetAnonymousSessionByID(r.Context(), p.UserID)
	h.respondRows(w, r, session, err)
}

// respondRows answers a lookup with a zero- or one-element row set
func (h *RPCHandler) respondRows(w http.ResponseWriter, r *http.Request, session *models.AnonymousSession, err error) {
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to get session", logger.Error(err))
		respondRPCError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	rows := []models.SessionRow{}
	if session != nil {
		rows = append(rows, session.Row())
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *RPCHandler) isAdmin(w http.ResponseWriter, r *http.Request) {
	admin, err := h.admin.Lookup(r)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to validate admin key", logger.Error(err))
		respondRPCError(w, http.StatusInternalServerError, "failed to validate API key")
		return
	}
	respondJSON(w, http.StatusOK, admin != nil)
}

// HandleConsume handles POST /rpc/consume_anonymous_tokens. The guest token
// must belong to the debited user.
func (h *RPCHandler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	var p ConsumeParams
	if err := decodeJSON(w, r, &p); err != nil {
		respondRPCError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.UserID == "" || p.Tokens <= 0 || p.Activity == "" {
		respondRPCError(w, http.StatusBadRequest, "user_id_param, activity_param and a positive tokens_param are required")
		return
	}
	if guestID(r) != p.UserID {
		respondRPCError(w, http.StatusForbidden, "token does not belong to this session")
		return
	}

	balance, err := h.db.ConsumeAnonymousTokens(r.Context(), p.UserID, p.Tokens, p.Activity)
	switch {
	case errors.Is(err, database.ErrInsufficientTokens):
		respondRPCError(w, http.StatusBadRequest, msgInsufficientTokens)
		return
	case errors.Is(err, database.ErrSessionNotFound):
		respondRPCError(w, http.StatusNotFound, msgSessionNotFound)
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "failed to consume tokens", logger.UserID(p.UserID), logger.Error(err))
		respondRPCError(w, http.StatusInternalServerError, "failed to consume tokens")
		return
	}

	h.log.DebugContext(r.Context(), "tokens consumed",
		logger.UserID(p.UserID), logger.Activity(p.Activity), logger.Tokens(p.Tokens))
	respondJSON(w, http.StatusOK, ConsumeResult{
		Success:         true,
		RemainingTokens: balance.RemainingTokens,
		UsedTokens:      balance.UsedTokens,
		TotalTokens:     balance.TotalTokens,
	})
}
