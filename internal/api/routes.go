package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andrew/avatar-studio/internal/api/handlers"
	"github.com/andrew/avatar-studio/internal/api/middleware"
	"github.com/andrew/avatar-studio/internal/cache"
	"github.com/andrew/avatar-studio/internal/config"
	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/providers"
	"github.com/andrew/avatar-studio/internal/providers/did"
	"github.com/andrew/avatar-studio/internal/providers/unsplash"
)

// Deps are the services the routes are built on
type Deps struct {
	DB          *database.DB
	Ledger      *ledger.Ledger
	DID         *did.Client
	Unsplash    *unsplash.Client
	Registry    *providers.Registry
	Avatars     handlers.AvatarStore // nil disables uploads
	Cache       cache.Cache
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(cfg *config.Config, deps Deps) http.Handler {
	log := deps.Logger
	secret := []byte(cfg.Secrets.GuestJWTSecret)

	guestAuth := middleware.NewGuestAuth(secret)
	adminAuth := middleware.NewAdminAuth(deps.DB, log)

	rpcHandler := handlers.NewRPCHandler(deps.DB, cfg.Guest, adminAuth, log)
	authHandler := handlers.NewAuthHandler(deps.DB, secret, cfg.Guest.TokenTTL, log)
	didHandler := handlers.NewDIDHandler(deps.DID, deps.DB, deps.Cache, cfg.DID.PresenterCacheTTL, log)
	imageHandler := handlers.NewImageSearchHandler(deps.Unsplash, log)
	uploadsHandler := handlers.NewUploadsHandler(deps.Avatars, log)
	catalogHandler := handlers.NewCatalogHandler(deps.DB, log)
	usageHandler := handlers.NewUsageHandler(deps.DB, deps.Ledger, log)
	adminHandler := handlers.NewAdminHandler(deps.DB, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLogger(log).Log)
	r.Use(middleware.NewCORS(cfg.Server.AllowedOrigins).Handle)
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.RateLimit)
	}

	// Health check (no auth required)
	r.Get("/health", handleHealth(deps.Registry))

	r.With(guestAuth.Authenticate).Post("/rpc/consume_anonymous_tokens", rpcHandler.HandleConsume)
	r.Post("/rpc/{name}", rpcHandler.HandleRPC)
	r.Post("/auth/guest", authHandler.HandleGuestToken)

	r.Route("/v1", func(r chi.Router) {
		r.Use(guestAuth.Authenticate)

		r.Get("/avatars", didHandler.HandleAvatars)
		r.Get("/voices", didHandler.HandleVoices)
		r.Post("/talks", didHandler.HandleCreateTalk)
		r.Get("/talks/{id}", didHandler.HandleGetTalk)
		r.Post("/clips", didHandler.HandleCreateClip)
		r.Get("/clips", didHandler.HandleListClips)
		r.Get("/clips/{id}", didHandler.HandleGetClip)
		r.Post("/images", didHandler.HandleUploadImage)
		r.Post("/agents", didHandler.HandleCreateAgent)
		r.Get("/agents", didHandler.HandleListAgents)

		r.Post("/images/search", imageHandler.HandleSearch)

		r.Post("/avatars/uploads", uploadsHandler.HandleUpload)
		r.Get("/avatars/uploads", uploadsHandler.HandleList)
		r.Delete("/avatars/uploads/*", uploadsHandler.HandleDelete)

		r.Get("/templates", catalogHandler.HandleTemplates)
		r.Get("/videos", catalogHandler.HandleVideos)
		r.Post("/videos/{id}/view", catalogHandler.HandleView)
		r.Post("/streams", catalogHandler.HandleCreateStream)
		r.Get("/streams", catalogHandler.HandleListStreams)

		r.Get("/usage", usageHandler.HandleGetUsage)
		r.Get("/usage/stats", usageHandler.HandleGetUsageStats)
		r.Get("/usage/hourly", usageHandler.HandleGetHourlyUsage)
		r.Get("/usage/estimate", usageHandler.HandleEstimate)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth.Authenticate)

		r.Get("/sessions", adminHandler.HandleListSessions)
		r.Post("/sessions/{id}/grant", adminHandler.HandleGrantTokens)
		r.Post("/devices/{hash}/block", adminHandler.HandleBlockDevice)
		r.Post("/devices/{hash}/unblock", adminHandler.HandleUnblockDevice)
	})

	return r
}

// handleHealth reports liveness and which providers are configured
func handleHealth(registry *providers.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		available := []string{}
		if registry != nil {
			available = registry.Available()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"providers": available,
			"time":      time.Now().UTC(),
		})
	}
}
