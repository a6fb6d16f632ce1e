package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/logger"
)

// CatalogHandler serves templates, the public gallery and streams
type CatalogHandler struct {
	db  *database.DB
	log *slog.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(db *database.DB, log *slog.Logger) *CatalogHandler {
	return &CatalogHandler{db: db, log: log.With(logger.Component("catalog"))}
}

func catalogFilter(r *http.Request) database.CatalogFilter {
	q := r.URL.Query()
	return database.CatalogFilter{Search: q.Get("search"), Category: q.Get("category")}
}

// HandleTemplates handles GET /v1/templates
func (h *CatalogHandler) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.db.ListTemplates(r.Context(), catalogFilter(r))
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to list templates", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// HandleVideos handles GET /v1/videos
func (h *CatalogHandler) HandleVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.db.ListPublicVideos(r.Context(), catalogFilter(r))
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to list videos", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// HandleView handles POST /v1/videos/{id}/view
func (h *CatalogHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	count, err := h.db.IncrementViewCount(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record view")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"view_count": count})
}

// CreateStreamRequest describes a new stream
type CreateStreamRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatar_url"`
	Type        string `json:"type"`
	Public      bool   `json:"public"`
	AutoRecord  bool   `json:"auto_record"`
	Quality     string `json:"quality"`
}

// HandleCreateStream handles POST /v1/streams
func (h *CatalogHandler) HandleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req CreateStreamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" || req.Description == "" || req.AvatarURL == "" {
		respondError(w, http.StatusBadRequest, "title, description and avatar_url are required")
		return
	}
	if req.Type == "" {
		req.Type = "live"
	}
	if req.Type != "live" && req.Type != "scheduled" {
		respondError(w, http.StatusBadRequest, "type must be live or scheduled")
		return
	}
	if req.Quality == "" {
		req.Quality = "1080p"
	}

	stream := &models.Stream{
		UserID:      guestID(r),
		Title:       req.Title,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
		Type:        req.Type,
		IsPublic:    req.Public,
		AutoRecord:  req.AutoRecord,
		Quality:     req.Quality,
	}
	if err := h.db.CreateStream(r.Context(), stream); err != nil {
		h.log.ErrorContext(r.Context(), "failed to create stream", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create stream")
		return
	}
	respondJSON(w, http.StatusCreated, stream)
}

// HandleListStreams handles GET /v1/streams
func (h *CatalogHandler) HandleListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := h.db.ListStreams(r.Context(), guestID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list streams")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"streams": streams})
}
