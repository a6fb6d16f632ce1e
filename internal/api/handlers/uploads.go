package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andrew/avatar-studio/internal/logger"
	"github.com/andrew/avatar-studio/internal/storage"
)

// AvatarStore keeps uploaded avatar images per user
type AvatarStore interface {
	Upload(ctx context.Context, userID, name, filename, contentType string, body io.Reader, size int64) (*storage.UploadedAvatar, error)
	List(ctx context.Context, userID string) ([]storage.UploadedAvatar, error)
	Delete(ctx context.Context, userID, key string) error
}

// UploadsHandler serves avatar image uploads
type UploadsHandler struct {
	store AvatarStore
	log   *slog.Logger
}

// NewUploadsHandler creates a new uploads handler. A nil store disables uploads.
func NewUploadsHandler(store AvatarStore, log *slog.Logger) *UploadsHandler {
	return &UploadsHandler{store: store, log: log.With(logger.Component("uploads"))}
}

func (h *UploadsHandler) available(w http.ResponseWriter) bool {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "avatar storage is not configured")
		return false
	}
	return true
}

func (h *UploadsHandler) respondStorageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrForbiddenPath), errors.Is(err, storage.ErrAccessDenied):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "avatar not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "avatar already exists")
	default:
		h.log.ErrorContext(r.Context(), op+" failed", logger.Error(err))
		respondError(w, http.StatusBadGateway, "avatar storage failed")
	}
}

// HandleUpload handles POST /v1/avatars/uploads
func (h *UploadsHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	userID := guestID(r)
	avatar, err := h.store.Upload(r.Context(), userID, name, header.Filename,
		header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		h.respondStorageError(w, r, "upload avatar", err)
		return
	}

	h.log.InfoContext(r.Context(), "avatar uploaded", logger.UserID(userID), slog.String("path", avatar.Path))
	respondJSON(w, http.StatusCreated, avatar)
}

// HandleList handles GET /v1/avatars/uploads
func (h *UploadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	avatars, err := h.store.List(r.Context(), guestID(r))
	if err != nil {
		h.respondStorageError(w, r, "list avatars", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"avatars": avatars})
}

// HandleDelete handles DELETE /v1/avatars/uploads/*
func (h *UploadsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	key := chi.URLParam(r, "*")
	if err := h.store.Delete(r.Context(), guestID(r), key); err != nil {
		h.respondStorageError(w, r, "delete avatar", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
