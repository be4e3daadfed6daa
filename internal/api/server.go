package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/leadmail/internal/config"
	"github.com/foxzi/leadmail/internal/delivery"
	"github.com/foxzi/leadmail/internal/editor"
	"github.com/foxzi/leadmail/internal/ipfilter"
	"github.com/foxzi/leadmail/internal/lead"
	"github.com/foxzi/leadmail/internal/metrics"
	"github.com/foxzi/leadmail/internal/placeholder"
	"github.com/foxzi/leadmail/internal/template"
)

// Version is reported by the health endpoint
var Version = "dev"

// Services are the components the API exposes
type Services struct {
	Templates  *template.Storage
	Leads      *lead.Store
	Catalog    *editor.Catalog // optional, used for unfiltered template lists
	Reconciler *placeholder.Reconciler
	Renderer   *template.Renderer
	Dispatcher *delivery.Dispatcher
	From       string // default sender
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	svc        Services
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(svc Services, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		svc:       svc,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(ipfilter.New("api", s.config.AllowedIPs, s.logger).Middleware)
		r.Use(s.authMiddleware)
		r.Use(metrics.HTTPMiddleware(nil))

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Post("/import", s.handleImportTemplate)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)

			r.Post("/{id}/placeholders", s.handleAddPlaceholder)
			r.Put("/{id}/placeholders/{name}", s.handleSetPlaceholder)
			r.Delete("/{id}/placeholders/{name}", s.handleRemovePlaceholder)

			r.Post("/{id}/preview", s.handlePreview)
			r.Post("/{id}/send", s.handleSend)
		})

		r.Get("/placeholders/auto", s.handleAutoPlaceholders)
		r.Post("/placeholders/extract", s.handleExtract)

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.handleListLeads)
			r.Post("/", s.handleCreateLead)
			r.Post("/import", s.handleImportLeads)
			r.Get("/{id}", s.handleGetLead)
			r.Delete("/{id}", s.handleDeleteLead)
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
