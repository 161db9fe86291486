package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/mp3portal/internal/config"
	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/firebase"
	"github.com/JonMunkholm/mp3portal/internal/logging"
	"github.com/JonMunkholm/mp3portal/internal/oauth"
	"github.com/JonMunkholm/mp3portal/internal/redisstore"
	"github.com/JonMunkholm/mp3portal/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"session_store", cfg.Session.Store,
		"auth_max_concurrent", cfg.Auth.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()

	clients, err := firebase.Connect(ctx, cfg.Firebase)
	if err != nil {
		slog.Error("failed to connect to firebase", "error", err)
		os.Exit(1)
	}
	defer clients.Close()
	slog.Info("connected to firebase", "project", cfg.Firebase.ProjectID)

	// Session store
	var (
		sessions    core.SessionStore
		memory      *core.MemorySessionStore
		redisClient *redis.Client
	)
	switch strings.ToLower(cfg.Session.Store) {
	case "redis":
		redisClient, err = redisstore.Connect(ctx, cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		sessions = redisstore.New(redisClient, cfg.Redis.KeyPrefix, cfg.Session.TTL)
		slog.Info("using redis session store", "addr", cfg.Redis.Addr)
	default:
		memory = core.NewMemorySessionStore(cfg.Session.TTL)
		sessions = memory
		slog.Info("using in-memory session store")
	}

	notifier := core.NewFlashNotifier(sessions)
	limiter := core.NewOpLimiter(cfg.Auth.MaxConcurrent, cfg.Auth.MaxWaitTime)
	authService := core.NewAuthService(
		firebase.NewIdentity(clients.Auth, clients.Toolkit, cfg.Server.BaseURL),
		firebase.NewProfileStore(clients.Firestore, cfg.Firebase.ProfileCollection),
		sessions,
		notifier,
		limiter,
		cfg.Auth.OperationTimeout,
	)
	previews := core.NewPreviewRegistry(cfg.Upload.AudioMaxFileSize)

	flow := oauth.New(cfg.OAuth, cfg.Server)
	for _, p := range flow.Providers() {
		slog.Info("federated sign-in enabled", "provider", p.String())
	}

	server, err := web.NewServer(cfg, web.Deps{
		Auth:     authService,
		Sessions: sessions,
		Notifier: notifier,
		Previews: previews,
		CSV:      core.NewCSVImporter(cfg.Upload.CSVSoftLimit),
		OAuth:    flow,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go sweep(jobCtx, cfg.Session.SweepInterval, memory, sessions, previews)
	go server.RunLimiterCleanup(jobCtx)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight auth operations finish so no session is left loading
		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for auth operations to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("auth operations did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// sweep periodically expires in-memory sessions and releases previews whose
// session no longer exists. memory is nil for stores that expire on their own.
func sweep(ctx context.Context, interval time.Duration, memory *core.MemorySessionStore, store core.SessionStore, previews *core.PreviewRegistry) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if memory != nil {
			for _, id := range memory.Sweep(ctx) {
				previews.Release(id)
			}
		}
		n, err := previews.ReleaseOrphans(ctx, store)
		if err != nil {
			slog.Warn("preview sweep failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("released orphaned previews", "entries", n)
		}
	}
}
