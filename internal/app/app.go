package app

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

	"github.com/foxzi/leadmail/internal/api"
	"github.com/foxzi/leadmail/internal/config"
	"github.com/foxzi/leadmail/internal/delivery"
	"github.com/foxzi/leadmail/internal/editor"
	"github.com/foxzi/leadmail/internal/lead"
	"github.com/foxzi/leadmail/internal/metrics"
	"github.com/foxzi/leadmail/internal/placeholder"
	"github.com/foxzi/leadmail/internal/template"
)

// App is the main application
type App struct {
	config     *config.Config
	logger     *slog.Logger
	registry   *placeholder.Registry
	reconciler *placeholder.Reconciler
	renderer   *template.Renderer
	templates  *template.Storage
	leads      *lead.Store
	catalog    *editor.Catalog
	dispatcher *delivery.Dispatcher

	metrics       *metrics.Metrics
	collector     *metrics.Collector
	metricsServer *metrics.Server
	apiServer     *api.Server
}

// New creates a new application. Stores are opened immediately; servers
// only start in Run.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	registry, err := placeholder.NewRegistry(cfg.Placeholders.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to create placeholder registry: %w", err)
	}

	templates, err := template.Open(cfg.Storage.Path, logger.With("component", "templates"))
	if err != nil {
		return nil, fmt.Errorf("failed to open template storage: %w", err)
	}

	leads, err := lead.Open(cfg.Leads.Path)
	if err != nil {
		templates.Close()
		return nil, fmt.Errorf("failed to open lead store: %w", err)
	}

	a := &App{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		reconciler: placeholder.NewReconciler(registry),
		renderer:   template.NewRenderer(registry),
		templates:  templates,
		leads:      leads,
		catalog:    editor.NewCatalog(templates, logger.With("component", "catalog")),
	}

	sender, err := newSender(cfg, logger.With("component", "delivery"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = delivery.NewDispatcher(sender, a.renderer, cfg.Delivery.Concurrency, logger.With("component", "dispatcher"))

	if cfg.Metrics.Enabled {
		if err := a.setupMetrics(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.apiServer = api.NewServer(api.Services{
		Templates:  templates,
		Leads:      leads,
		Catalog:    a.catalog,
		Reconciler: a.reconciler,
		Renderer:   a.renderer,
		Dispatcher: a.dispatcher,
		From:       cfg.Delivery.From,
	}, &cfg.API, logger.With("component", "api"))

	return a, nil
}

// newSender picks the transport configured in delivery.mode
func newSender(cfg *config.Config, logger *slog.Logger) (delivery.Sender, error) {
	if cfg.Delivery.Mode == config.DeliveryModeLog {
		logger.Info("delivery in dry-run mode, messages are logged only")
		return delivery.NewLogSender(logger), nil
	}

	var signer *delivery.Signer
	if dk := cfg.Delivery.DKIM; dk.Enabled {
		var err error
		signer, err = delivery.NewSignerFromFile(dk.KeyFile, dk.Domain, dk.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to create DKIM signer: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", dk.Domain, "selector", dk.Selector)
	}

	smtpCfg := cfg.Delivery.SMTP
	return delivery.NewSMTPSender(delivery.SMTPOptions{
		Host:       smtpCfg.Host,
		Port:       smtpCfg.Port,
		Username:   smtpCfg.Username,
		Password:   smtpCfg.Password,
		Hostname:   cfg.Server.Hostname,
		Timeout:    smtpCfg.Timeout,
		RequireTLS: smtpCfg.RequireTLS,
	}, signer, logger), nil
}

func (a *App) setupMetrics() error {
	a.metrics = metrics.New()
	metrics.SetGlobal(a.metrics)

	collector, err := metrics.NewCollector(a.templates.DB(), a.metrics, metrics.CollectorOptions{
		Templates: metrics.CountFunc(func(ctx context.Context) (int64, error) {
			stats, err := a.templates.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return stats.Total, nil
		}),
		Leads:         metrics.CountFunc(a.leads.Count),
		StoragePath:   a.config.Storage.Path,
		FlushInterval: a.config.Metrics.FlushInterval,
		Logger:        a.logger.With("component", "metrics"),
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	a.collector = collector

	a.metricsServer = metrics.NewServer(
		a.metrics,
		a.config.Metrics.ListenAddr,
		a.config.Metrics.Path,
		a.config.Metrics.AllowedIPs,
		a.logger.With("component", "metrics_server"),
	)
	return nil
}

func (a *App) Logger() *slog.Logger                { return a.logger }
func (a *App) Config() *config.Config              { return a.config }
func (a *App) Registry() *placeholder.Registry     { return a.registry }
func (a *App) Reconciler() *placeholder.Reconciler { return a.reconciler }
func (a *App) Renderer() *template.Renderer        { return a.renderer }
func (a *App) Templates() *template.Storage        { return a.templates }
func (a *App) Leads() *lead.Store                  { return a.leads }
func (a *App) Dispatcher() *delivery.Dispatcher    { return a.dispatcher }

// NewSession starts an editing session on the template store
func (a *App) NewSession() *editor.Session {
	return editor.NewSession(a.templates, a.reconciler, a.logger.With("component", "session"))
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting leadmail",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"delivery_mode", a.config.Delivery.Mode,
		"auto_placeholders", a.registry.Names(),
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 3)

	catalogDone := make(chan struct{})
	go func() {
		defer close(catalogDone)
		if err := a.catalog.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("catalog stopped", "error", err)
		}
	}()

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
	}
	cancel()
	<-catalogDone

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown stops the servers and closes the stores
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close persists metrics and closes the stores. One-shot commands call it
// instead of Shutdown.
func (a *App) Close() {
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
		a.collector = nil
	}

	if a.leads != nil {
		if err := a.leads.Close(); err != nil {
			a.logger.Error("lead store close error", "error", err)
		}
		a.leads = nil
	}

	if a.templates != nil {
		if err := a.templates.Close(); err != nil {
			a.logger.Error("template storage close error", "error", err)
		}
		a.templates = nil
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// stderr keeps command output on stdout clean
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
