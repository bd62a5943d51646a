// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New opens the two databases, builds
// the remote client, the services and the handlers, and mounts them on a chi
// router. main.go only loads configuration and calls Start.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New:
//	  sqlite.DB (local store)  ─┬→ KeyService ─┬→ KeyHandler
//	  remote.Client            ─┤              └→ ShareService → ShareHandler
//	  hostdb.Reader → snapshot.Builder ────────────┘
//	  sqlite.DB → AuthService → AuthHandler
//	  sqlite.DB → RegistryService → ServerHandler
//
// Each layer only receives what it needs: services get repository
// interfaces, handlers get services.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/keybridge/internal/auth"
	"github.com/sakif/keybridge/internal/config"
	"github.com/sakif/keybridge/internal/handler"
	"github.com/sakif/keybridge/internal/machine"
	"github.com/sakif/keybridge/internal/middleware"
	"github.com/sakif/keybridge/internal/remote"
	"github.com/sakif/keybridge/internal/repository/hostdb"
	sqliteRepo "github.com/sakif/keybridge/internal/repository/sqlite"
	"github.com/sakif/keybridge/internal/service"
	"github.com/sakif/keybridge/internal/snapshot"
)

// PluginName is reported by /api/ping.
const PluginName = "keybridge"

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns both database connections. Close releases them; Start
// calls it on the way out.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	store  *sqliteRepo.DB
	host   *hostdb.Reader
}

// New opens the local store and the host database and wires every route.
// The host database must already exist; the local store is created and
// migrated when missing.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := sqliteRepo.New(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	host, err := hostdb.Open(ctx, cfg.HostDB.Path)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening host database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		store:  store,
		host:   host,
	}
	s.setupRoutes()

	return s, nil
}

// Handler returns the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (read by Logger)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request and records HTTP metrics
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. CORS: the desktop frontend runs on its own origin
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// === Collaborators ===
	machineID := machine.ID(s.cfg.MachineID, machine.DefaultSource())
	client := remote.New(remote.Config{
		BaseURL:          s.cfg.API.BaseURL,
		Version:          s.cfg.API.Version,
		AnalysisEndpoint: s.cfg.API.AnalysisEndpoint,
		Timeout:          s.cfg.API.Timeout,
		RateLimit:        s.cfg.API.RateLimit,
		RateBurst:        s.cfg.API.RateBurst,
		BreakerFailures:  s.cfg.API.BreakerFailures,
		BreakerTimeout:   s.cfg.API.BreakerTimeout,
	}, s.logger)
	tokens := auth.NewTokenInspector(s.cfg.API.TokenLeeway)
	builder := snapshot.NewBuilder(s.host, machineID, s.logger)

	// === Services ===
	// s.store (sqlite.DB) implements the user, key and server repositories.
	keyService := service.NewKeyService(s.store, s.store, client, tokens, s.logger)
	authService := service.NewAuthService(s.store, client, s.logger)
	shareService := service.NewShareService(s.store, s.store, s.host, builder, client, tokens, keyService, s.logger)
	registryService := service.NewRegistryService(s.store, s.logger)

	// === Handlers ===
	healthHandler := handler.NewHealthHandler(PluginName, builder.MachineID(), map[string]handler.Pinger{
		"store":  s.store,
		"hostdb": s.host,
	}, s.logger)
	authHandler := handler.NewAuthHandler(authService, s.logger)
	keyHandler := handler.NewKeyHandler(keyService, s.logger)
	shareHandler := handler.NewShareHandler(shareService, s.logger)
	serverHandler := handler.NewServerHandler(registryService, s.logger)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/ping", healthHandler.HandlePing)
		r.Get("/health", healthHandler.HandleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/user", authHandler.HandleUser)
		})

		r.Route("/key", func(r chi.Router) {
			r.Post("/", keyHandler.HandleCreate)
			r.Post("/request", keyHandler.HandleRequest)
			r.Patch("/use/{key}", keyHandler.HandleMarkUsed)
			// chi tries regexp params before plain ones, so numeric
			// segments are user ids.
			r.Get("/{userID:[0-9]+}", keyHandler.HandleListForUser)
			r.Get("/{key}", keyHandler.HandleGet)
			r.Put("/{key}", keyHandler.HandleUpdate)
			r.Delete("/{key}", keyHandler.HandleDelete)
		})
		r.Post("/keys/cleanup", keyHandler.HandleCleanup)

		r.Route("/analysis", func(r chi.Router) {
			r.Post("/", shareHandler.HandleShare)
			r.Get("/preview/{sessionID}", shareHandler.HandlePreview)
			r.Get("/key/{key}", shareHandler.HandleLookup)
			r.Get("/{analysisID}/keys", keyHandler.HandleListForAnalysis)
			r.Post("/{analysisID}/deactivate-keys", keyHandler.HandleDeactivateForAnalysis)
		})

		r.Get("/sessions", shareHandler.HandleSessions)

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", serverHandler.HandleList)
			r.Post("/", serverHandler.HandleCreate)
			r.Get("/{id}", serverHandler.HandleGet)
			r.Delete("/{id}", serverHandler.HandleDelete)
		})
	})

	s.logger.Debug("routes configured",
		slog.String("machineID", machineID),
		slog.String("remote", client.BaseURL()),
	)
}

// Close releases both databases.
func (s *Server) Close() error {
	return errors.Join(s.store.Close(), s.host.Close())
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, give in-flight requests 30
// seconds, close the databases.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing databases", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTP.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.API.Timeout + 15*time.Second, // must outlive a remote call
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.HTTP.Port),
			slog.String("store", s.cfg.Store.Path),
			slog.String("hostdb", s.cfg.HostDB.Path),
			slog.String("remote", s.cfg.API.BaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
