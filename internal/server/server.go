// Package server wires the dependency chain together and runs the HTTP
// server: sqlite.DB → services → handlers → routes, with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/fitcal/internal/config"
	"github.com/sakif/fitcal/internal/google"
	"github.com/sakif/fitcal/internal/handler"
	"github.com/sakif/fitcal/internal/middleware"
	sqliteRepo "github.com/sakif/fitcal/internal/repository/sqlite"
	"github.com/sakif/fitcal/internal/service"
)

// Server owns the router and the database connection; the connection is
// closed on shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the full dependency chain.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	remote, err := google.New(google.Config{
		Timezone:       cfg.Google.Timezone,
		MaxListResults: cfg.Sync.MaxListResults,
	}, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating google client: %w", err)
	}

	tokens := service.NewTokenService(db, service.TokenConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		ExpiryMargin: cfg.Google.TokenExpiryMargin.Duration,
	}, logger)

	calendar := service.NewCalendarService(db, db, tokens, remote, cfg.Sync.DuplicateWindow.Duration, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	s.setupRoutes(handler.NewCalendarHandler(calendar, tokens, logger))
	return s, nil
}

func (s *Server) setupRoutes(calendarHandler *handler.CalendarHandler) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.Route("/api/calendar", func(r chi.Router) {
		r.Get("/auth/url", calendarHandler.HandleAuthURL)
		r.Get("/auth/callback", calendarHandler.HandleAuthCallback)
		r.Get("/status", calendarHandler.HandleStatus)
		r.Get("/events", calendarHandler.HandleList)
		r.Post("/events", calendarHandler.HandleCreate)
		r.Patch("/events/{id}", calendarHandler.HandleUpdate)
		r.Delete("/events/{id}", calendarHandler.HandleDelete)
		r.Post("/sync", calendarHandler.HandleSync)
	})
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully and
// closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", s.config.ListenAddr),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
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
