package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/andrew/avatar-studio/internal/logger"
	"github.com/andrew/avatar-studio/internal/providers"
	"github.com/andrew/avatar-studio/internal/providers/unsplash"
)

// ImageSearchHandler serves stock image search
type ImageSearchHandler struct {
	unsplash *unsplash.Client
	log      *slog.Logger
}

// NewImageSearchHandler creates a new image search handler
func NewImageSearchHandler(client *unsplash.Client, log *slog.Logger) *ImageSearchHandler {
	return &ImageSearchHandler{unsplash: client, log: log.With(logger.Provider(unsplash.Name))}
}

// HandleSearch handles POST /v1/images/search
func (h *ImageSearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req unsplash.SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.unsplash.Search(r.Context(), req)
	switch {
	case errors.Is(err, providers.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "image search is not configured")
		return
	case err != nil:
		if !errors.Is(err, unsplash.ErrQueryRequired) {
			h.log.WarnContext(r.Context(), "image search failed", logger.Error(err))
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}
