package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andrew/avatar-studio/internal/cache"
	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/logger"
	"github.com/andrew/avatar-studio/internal/providers"
	"github.com/andrew/avatar-studio/internal/providers/did"
)

// maxImageUpload bounds multipart image bodies
const maxImageUpload = 10 << 20

const avatarsCacheKey = "did:avatars"

// DIDHandler proxies the avatar and video provider
type DIDHandler struct {
	did      *did.Client
	db       *database.DB
	cache    cache.Cache
	cacheTTL time.Duration
	log      *slog.Logger
}

// NewDIDHandler creates a new provider proxy handler
func NewDIDHandler(client *did.Client, db *database.DB, c cache.Cache, cacheTTL time.Duration, log *slog.Logger) *DIDHandler {
	return &DIDHandler{
		did:      client,
		db:       db,
		cache:    c,
		cacheTTL: cacheTTL,
		log:      log.With(logger.Component("did"), logger.Provider(did.Name)),
	}
}

// respondProviderError maps a provider failure onto the response
func (h *DIDHandler) respondProviderError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, providers.ErrNotConfigured) {
		respondError(w, http.StatusServiceUnavailable, "avatar provider is not configured")
		return
	}
	h.log.ErrorContext(r.Context(), op+" failed", logger.Error(err))
	respondError(w, http.StatusBadGateway, err.Error())
}

// HandleAvatars handles GET /v1/avatars
func (h *DIDHandler) HandleAvatars(w http.ResponseWriter, r *http.Request) {
	avatars, err := cache.Remember(r.Context(), h.cache, avatarsCacheKey, h.cacheTTL,
		func(ctx context.Context) ([]did.Avatar, error) {
			return h.did.Avatars(ctx)
		})
	if err != nil {
		h.respondProviderError(w, r, "list avatars", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"avatars": avatars})
}

// HandleVoices handles GET /v1/voices
func (h *DIDHandler) HandleVoices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"voices": did.Voices()})
}

// HandleCreateTalk handles POST /v1/talks
func (h *DIDHandler) HandleCreateTalk(w http.ResponseWriter, r *http.Request) {
	var req did.TalkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SourceURL == "" || req.Script.Input == "" {
		respondError(w, http.StatusBadRequest, "source_url and script.input are required")
		return
	}

	talk, err := h.did.CreateTalk(r.Context(), req)
	if err != nil {
		h.respondProviderError(w, r, "create talk", err)
		return
	}

	h.log.InfoContext(r.Context(), "talk created", logger.UserID(guestID(r)), slog.String("talk_id", talk.ID))
	respondJSON(w, http.StatusCreated, talk)
}

// HandleGetTalk handles GET /v1/talks/{id}
func (h *DIDHandler) HandleGetTalk(w http.ResponseWriter, r *http.Request) {
	talk, err := h.did.Talk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondProviderError(w, r, "get talk", err)
		return
	}
	respondJSON(w, http.StatusOK, talk)
}

// HandleCreateClip handles POST /v1/clips
func (h *DIDHandler) HandleCreateClip(w http.ResponseWriter, r *http.Request) {
	var req did.ClipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PresenterID == "" || req.Script.Input == "" {
		respondError(w, http.StatusBadRequest, "presenter_id and script.input are required")
		return
	}

	clip, err := h.did.CreateClip(r.Context(), req)
	if err != nil {
		h.respondProviderError(w, r, "create clip", err)
		return
	}

	h.log.InfoContext(r.Context(), "clip created", logger.UserID(guestID(r)), slog.String("clip_id", clip.ID))
	respondJSON(w, http.StatusCreated, clip)
}

// HandleListClips handles GET /v1/clips
func (h *DIDHandler) HandleListClips(w http.ResponseWriter, r *http.Request) {
	clips, err := h.did.Clips(r.Context())
	if err != nil {
		h.respondProviderError(w, r, "list clips", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"clips": clips})
}

// HandleGetClip handles GET /v1/clips/{id}
func (h *DIDHandler) HandleGetClip(w http.ResponseWriter, r *http.Request) {
	clip, err := h.did.Clip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondProviderError(w, r, "get clip", err)
		return
	}
	respondJSON(w, http.StatusOK, clip)
}

// HandleUploadImage handles POST /v1/images
func (h *DIDHandler) HandleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer file.Close()

	img, err := h.did.UploadImage(r.Context(), header.Filename, file)
	if err != nil {
		h.respondProviderError(w, r, "upload image", err)
		return
	}
	respondJSON(w, http.StatusCreated, img)
}

// HandleCreateAgent handles POST /v1/agents
func (h *DIDHandler) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req did.AgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.SourceURL == "" {
		respondError(w, http.StatusBadRequest, "name and source_url are required")
		return
	}

	created, err := h.did.CreateAgent(r.Context(), req)
	if err != nil {
		h.respondProviderError(w, r, "create agent", err)
		return
	}

	agent := &models.Agent{
		UserID:     guestID(r),
		ProviderID: created.ID,
		Name:       req.Name,
		SourceURL:  req.SourceURL,
		Gender:     req.Gender,
		Status:     created.Status,
	}
	if err := h.db.CreateAgent(r.Context(), agent); err != nil {
		h.log.ErrorContext(r.Context(), "failed to record agent", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to record agent")
		return
	}

	respondJSON(w, http.StatusCreated, agent)
}

// HandleListAgents handles GET /v1/agents
func (h *DIDHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context(), guestID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"agents": agents})
}
