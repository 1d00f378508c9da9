package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/phyntra/backend/internal/api"
	"github.com/phyntra/backend/internal/config"
	"github.com/phyntra/backend/internal/conversation"
	"github.com/phyntra/backend/internal/extraction"
	"github.com/phyntra/backend/internal/observability"
	"github.com/phyntra/backend/internal/session"
	"github.com/phyntra/backend/internal/storage"
	"github.com/phyntra/backend/internal/upload"
	"github.com/rs/zerolog"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default: phyntra.yaml next to the executable)")
	flag.Parse()

	if *configPath == "" {
		// Get the executable's directory for config resolution
		exePath, err := os.Executable()
		if err != nil {
			fmt.Printf("Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(exePath), "phyntra.yaml")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat)
	if err != nil {
		fmt.Printf("Invalid logging configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("failed to create directories")
	}

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	client := extraction.NewClient(cfg.ExtractionBaseURL(),
		extraction.WithTimeout(cfg.ExtractionTimeout()),
		extraction.WithLogger(log),
	)

	uploadMgr := upload.NewManager(fileStore, log)

	// Each session owns one conversation; its files go with it.
	sessionMgr := session.NewManager(
		func(sessionID string) *conversation.Controller {
			return conversation.New(client,
				conversation.WithReplyDelay(cfg.ReplyDelay()),
				conversation.WithLogger(log.With().Str("session_id", sessionID).Logger()),
				conversation.WithContentLoader(fileStore.ReadFile),
			)
		},
		session.WithMaxSessions(cfg.Conversation.MaxSessions),
		session.WithLogger(log),
		session.WithBusy(uploadMgr.HasActiveJob),
		session.OnEnd(func(id string) {
			if n, err := fileStore.DeleteSession(id); err != nil {
				log.Warn().Err(err).Str("session_id", id).Msg("failed to delete session files")
			} else if n > 0 {
				log.Debug().Str("session_id", id).Int("files", n).Msg("deleted session files")
			}
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background session cleanup
	go runCleanup(ctx, cfg, sessionMgr, uploadMgr, log)

	h := api.NewHandler(api.Dependencies{
		Store:       fileStore,
		Sessions:    sessionMgr,
		Uploads:     uploadMgr,
		Logger:      log,
		MaxFileSize: cfg.MaxFileSize(),
		Version:     Version,
	})
	wsHandler := api.NewWebSocketHandler(h, int64(cfg.Advanced.WebSocketMaxMessageSize)*1024)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, api.MiddlewareConfig{
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   cfg.Server.AllowOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		ShowDetails:    cfg.Advanced.ShowErrorDetails,
		Logger:         log,
	})
	api.RegisterRoutes(e, h, wsHandler)

	// Configure server with settings from the config file
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, *configPath)

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	uploadMgr.Wait()
}

// runCleanup ends idle sessions and forgets finished upload jobs.
func runCleanup(ctx context.Context, cfg *config.AppConfig, sessions *session.Manager, uploads *upload.Manager, log zerolog.Logger) {
	interval := time.Duration(cfg.Conversation.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	maxAge := time.Duration(cfg.Conversation.SessionTimeoutMinutes) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ended := sessions.CleanupOldSessions(maxAge)
			jobs := uploads.CleanupOldJobs(maxAge)
			if ended > 0 || jobs > 0 {
				log.Info().Int("sessions", ended).Int("jobs", jobs).Msg("cleanup")
			}
		}
	}
}

func printBanner(cfg *config.AppConfig, configPath string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Phyntra Invoice Chat Server                     ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", cfg.Extraction.Mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Extractor: %-46s║\n", cfg.ExtractionBaseURL())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
