package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipcycle/clipcycle/internal/api"
	"github.com/clipcycle/clipcycle/internal/config"
	"github.com/clipcycle/clipcycle/internal/db"
	"github.com/clipcycle/clipcycle/internal/download"
	"github.com/clipcycle/clipcycle/internal/jobs"
	"github.com/clipcycle/clipcycle/internal/ledger"
	"github.com/clipcycle/clipcycle/internal/logging"
	"github.com/clipcycle/clipcycle/internal/media"
	"github.com/clipcycle/clipcycle/internal/rotation"
	"github.com/clipcycle/clipcycle/internal/scheduler"
	"github.com/clipcycle/clipcycle/internal/twitch"
	"github.com/clipcycle/clipcycle/internal/uploader"
	"github.com/clipcycle/clipcycle/internal/youtube"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.DownloadsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create downloads dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipcycle agent", "version", config.Version, "data_dir", cfg.DataDir())

	if cfg.TwitchClientID() == "" || cfg.TwitchClientSecret() == "" {
		return fmt.Errorf("twitch.client_id and twitch.client_secret are required")
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := ledger.NewRepository(database.Conn())
	ledgerSvc := ledger.NewService(repo, logger)
	rot := rotation.NewManager(database.Conn(), logger)

	tokenStore := youtube.NewTokenStore(cfg.TokenPath(), logger)
	auth := youtube.NewAuth(cfg.YouTubeClientID(), cfg.YouTubeClientSecret(),
		cfg.YouTubeRedirectURL(), tokenStore, logger)
	ytClient := youtube.NewAPIClient(logger)

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                   CLIPCYCLE AGENT v%-6s                  ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Dashboard:  http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  YouTube:    %-45s ║\n", connectedLabel(auth.Connected()))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	source := twitch.NewHelixClient(cfg.TwitchClientID(), cfg.TwitchClientSecret(),
		logging.WithComponent(logger, "twitch"))
	fetcher := download.NewHTTPFetcher(logging.WithComponent(logger, "download"))

	orch := uploader.New(repo, auth, ytClient, cfg.Upload(),
		logging.WithComponent(logger, "uploader"))

	refreshJob := jobs.NewRefreshJob(source, rot, cfg.RotationSize(),
		logging.WithJob(logger, "category-refresh"))
	acquireJob := jobs.NewAcquireJob(repo, rot, source, fetcher,
		cfg.DownloadsDir(), cfg.AcquireInterval(), logging.WithJob(logger, "acquire"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acquireJob.OnAcquired(func() {
		go func() {
			if err := orch.Sweep(ctx); err != nil {
				logger.Error("triggered upload sweep failed", "error", err)
			}
		}()
	})

	sched := scheduler.New(scheduler.NewClock(), logging.WithComponent(logger, "scheduler"))
	sched.Register("category-refresh", scheduler.DailyAt(cfg.RefreshHour(), cfg.RefreshMinute()), refreshJob.Run)
	sched.Register("acquire", scheduler.Every(cfg.AcquireInterval()), acquireJob.Run)
	sched.Register("upload-sweep", scheduler.Every(cfg.SweepInterval()), orch.Sweep)

	// Seed the rotation right away when it is empty, so a fresh install does
	// not sit idle until the first scheduled refresh.
	if candidates, err := rot.Candidates(ctx); err == nil && len(candidates) == 0 {
		if err := refreshJob.Run(ctx); err != nil {
			logger.Warn("initial category refresh failed", "error", err)
		}
	}

	sched.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Ledger:      ledgerSvc,
		Rotation:    rot,
		Auth:        auth,
		Analytics:   ytClient,
		MediaServer: media.NewServer(logger),
		Logger:      logger,
		StartTime:   startTime,
		Version:     config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()
	sched.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func connectedLabel(connected bool) string {
	if connected {
		return "connected"
	}
	return "not connected (visit /auth/youtube)"
}
