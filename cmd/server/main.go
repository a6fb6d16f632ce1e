package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrew/avatar-studio/internal/api"
	"github.com/andrew/avatar-studio/internal/api/handlers"
	"github.com/andrew/avatar-studio/internal/api/middleware"
	"github.com/andrew/avatar-studio/internal/cache"
	"github.com/andrew/avatar-studio/internal/cli/management"
	"github.com/andrew/avatar-studio/internal/config"
	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/logger"
	"github.com/andrew/avatar-studio/internal/providers"
	"github.com/andrew/avatar-studio/internal/providers/did"
	"github.com/andrew/avatar-studio/internal/providers/unsplash"
	"github.com/andrew/avatar-studio/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration")
	manageCmd := flag.Bool("manage", false, "Run the interactive operator console")

	// Automation subcommands for scripting
	listSessions := flag.Bool("list-sessions", false, "List guest sessions (JSON output)")
	blockDevice := flag.String("block", "", "Block a device fingerprint: <hash>[:reason]")
	unblockDevice := flag.String("unblock", "", "Unblock a device fingerprint")
	grantTokens := flag.String("grant", "", "Grant tokens with JSON input: {\"user_id\":\"...\", \"tokens\":500}")
	usageStats := flag.String("usage", "", "Show usage stats for a session user id (JSON output)")
	addAdmin := flag.String("add-admin", "", "Create an admin API key with the given name")
	listAdmins := flag.Bool("list-admins", false, "List admin API keys (JSON output)")
	deleteAdmin := flag.Int64("delete-admin", 0, "Delete admin API key by ID")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Error("failed to initialize database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	// Automation commands print JSON; -manage runs the interactive console
	var command func(*management.Manager) error
	switch {
	case *listSessions:
		command = func(m *management.Manager) error { return m.ListSessionsJSON(ctx, 0) }
	case *blockDevice != "":
		command = func(m *management.Manager) error { return m.BlockDeviceJSON(ctx, *blockDevice) }
	case *unblockDevice != "":
		command = func(m *management.Manager) error { return m.UnblockDeviceJSON(ctx, *unblockDevice) }
	case *grantTokens != "":
		command = func(m *management.Manager) error { return m.GrantTokensJSON(ctx, *grantTokens) }
	case *usageStats != "":
		command = func(m *management.Manager) error { return m.UsageStatsJSON(ctx, *usageStats) }
	case *addAdmin != "":
		command = func(m *management.Manager) error { return m.AddAdminJSON(ctx, *addAdmin) }
	case *listAdmins:
		command = func(m *management.Manager) error { return m.ListAdminsJSON(ctx) }
	case *deleteAdmin > 0:
		command = func(m *management.Manager) error { return m.DeleteAdminJSON(ctx, *deleteAdmin) }
	case *manageCmd:
		command = func(m *management.Manager) error { return m.Run(ctx) }
	}

	if command != nil {
		manager, err := management.NewManager(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := command(manager); err != nil {
			if *manageCmd {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg, db, log); err != nil {
		log.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, db *database.DB, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting avatar studio server",
		slog.String("addr", cfg.Server.Address()),
		slog.String("database", cfg.Database.Path))

	usage, err := ledger.New(ctx, db.UsageStore(), ledger.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to load usage ledger: %w", err)
	}
	go usage.Run(ctx)

	didClient := did.New(cfg.DID.BaseURL, cfg.Secrets.DIDAPIKey, cfg.DID.Timeout)
	unsplashClient := unsplash.New(cfg.Unsplash.BaseURL, cfg.Secrets.UnsplashAccessKey, cfg.Unsplash.Timeout)
	registry := providers.NewRegistry(didClient, unsplashClient)
	for _, p := range []providers.Provider{didClient, unsplashClient} {
		if registry.IsAvailable(p.Name()) {
			log.Info("provider available", logger.Provider(p.Name()))
		} else {
			log.Warn("provider not configured", logger.Provider(p.Name()))
		}
	}

	presenterCache := cache.Cache(cache.NewMemory())
	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, cfg.Secrets.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		presenterCache = cache.NewRedis(client, "avatar-studio")
		log.Info("presenter cache backed by redis")
	}

	var avatarStore handlers.AvatarStore
	if cfg.Storage.Bucket != "" {
		avatars, err := storage.New(ctx, storage.Config{
			Bucket:         cfg.Storage.Bucket,
			Region:         cfg.Storage.Region,
			AccessKeyID:    cfg.Secrets.S3AccessKeyID,
			SecretKey:      cfg.Secrets.S3SecretAccessKey,
			Endpoint:       cfg.Storage.Endpoint,
			BaseURL:        cfg.Storage.BaseURL,
			ForcePathStyle: cfg.Storage.ForcePathStyle,
		})
		if err != nil {
			log.Warn("avatar uploads disabled", logger.Error(err))
		} else {
			avatarStore = avatars
		}
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute)
	go limiter.Run(ctx)

	handler := api.SetupRoutes(cfg, api.Deps{
		DB:          db,
		Ledger:      usage,
		DID:         didClient,
		Unsplash:    unsplashClient,
		Registry:    registry,
		Avatars:     avatarStore,
		Cache:       presenterCache,
		RateLimiter: limiter,
		Logger:      log,
	})

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("url", "http://"+cfg.Server.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
