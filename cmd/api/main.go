// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/backend"
	"github.com/dailogi/scene-client/internal/config"
	"github.com/dailogi/scene-client/internal/handler"
	"github.com/dailogi/scene-client/internal/journal"
	"github.com/dailogi/scene-client/internal/middleware"
	"github.com/dailogi/scene-client/internal/roster"
	"github.com/dailogi/scene-client/internal/service"
	"github.com/dailogi/scene-client/internal/stream"
	"github.com/dailogi/scene-client/pkg/logger"
	"github.com/dailogi/scene-client/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var log *logger.Logger
	var err error
	if os.Getenv("ENV") == "development" {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting scene API server", zap.String("backend", cfg.BackendBaseURL))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "dailogi-scene-client", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Event journal is optional
	var publisher journal.Publisher = journal.Nop{}
	var journalConn handler.Connectivity
	if cfg.JournalEnabled() {
		natsClient, err := journal.Connect(ctx, journal.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		pub := journal.NewPublisher(natsClient)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			pub.Flush(flushCtx)
		}()
		publisher = pub
		journalConn = natsClient
		log.Info("event journal enabled", zap.String("stream", journal.StreamName))
	}

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, scenes are scoped to the raw session token")
	}

	// Backend clients
	backendClient := backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)
	streamClient := stream.NewClient(backendClient, log)
	rosterClient := roster.NewClient(backendClient, log)

	// Initialize services
	sceneSvc := service.NewSceneService(streamClient, service.Options{
		DefaultLength: cfg.DefaultSceneLength,
		TTL:           cfg.SceneTTL,
		Roster:        rosterClient,
		Publisher:     publisher,
	}, log)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go sceneSvc.Janitor(janitorCtx)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(backendClient, journalConn)
	sceneHandler := handler.NewSceneHandler(sceneSvc, log)
	rosterHandler := handler.NewRosterHandler(rosterClient, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with session authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Session(cfg.SessionCookieName, cfg.JWTSecret))

		r.Get("/roster", rosterHandler.Get)

		r.Route("/scenes", func(r chi.Router) {
			r.With(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Post("/", sceneHandler.Create)
			r.Get("/", sceneHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(middleware.SceneID)
				r.Get("/", sceneHandler.Get)
				r.Delete("/", sceneHandler.Delete)
				r.Get("/events", sceneHandler.Events)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Stop scenes first so open event relays end
	sceneSvc.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
