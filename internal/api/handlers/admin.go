package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/logger"
)

// AdminHandler handles operator requests
type AdminHandler struct {
	db  *database.DB
	log *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(db *database.DB, log *slog.Logger) *AdminHandler {
	return &AdminHandler{db: db, log: log.With(logger.Component("admin"))}
}

// HandleListSessions handles GET /admin/sessions
func (h *AdminHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	sessions, err := h.db.ListAnonymousSessions(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

// BlockDeviceRequest gives a reason for blocking a device
type BlockDeviceRequest struct {
	Reason string `json:"reason"`
}

// HandleBlockDevice handles POST /admin/devices/{hash}/block
func (h *AdminHandler) HandleBlockDevice(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	var req BlockDeviceRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.db.BlockDevice(r.Context(), hash, req.Reason); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to block device")
		return
	}

	h.log.InfoContext(r.Context(), "device blocked", logger.Fingerprint(hash), slog.String("reason", req.Reason))
	h.respondPolicy(w, r, hash)
}

// HandleUnblockDevice handles POST /admin/devices/{hash}/unblock
func (h *AdminHandler) HandleUnblockDevice(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	if err := h.db.UnblockDevice(r.Context(), hash); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to unblock device")
		return
	}

	h.log.InfoContext(r.Context(), "device unblocked", logger.Fingerprint(hash))
	h.respondPolicy(w, r, hash)
}

func (h *AdminHandler) respondPolicy(w http.ResponseWriter, r *http.Request, hash string) {
	policy, err := h.db.GetDevicePolicy(r.Context(), hash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load device policy")
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

// GrantTokensRequest adds tokens to a session
type GrantTokensRequest struct {
	Tokens int `json:"tokens"`
}

// HandleGrantTokens handles POST /admin/sessions/{id}/grant
func (h *AdminHandler) HandleGrantTokens(w http.ResponseWriter, r *http.Request) {
	var req GrantTokensRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Tokens <= 0 {
		respondError(w, http.StatusBadRequest, "tokens must be positive")
		return
	}

	userID := chi.URLParam(r, "id")
	balance, err := h.db.GrantTokens(r.Context(), userID, req.Tokens)
	if errors.Is(err, database.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to grant tokens")
		return
	}

	h.log.InfoContext(r.Context(), "tokens granted", logger.UserID(userID), logger.Tokens(req.Tokens))
	respondJSON(w, http.StatusOK, balance)
}
