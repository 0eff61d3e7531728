// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/loam/internal/api"
	"github.com/starford/loam/internal/mcpserver"
	"github.com/starford/loam/internal/service"
	"github.com/starford/loam/internal/sse"
	"github.com/starford/loam/internal/store"
	syncpkg "github.com/starford/loam/internal/sync"
)

func buildApp(opts []Option) (*Config, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app.config, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// bootstrap opens the store, builds the service, and registers every
// configured project.
func bootstrap(cfg *Config, logger *slog.Logger, notify syncpkg.Notifier) (*store.Store, *service.Service, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	svc := service.New(st, logger, notify, syncpkg.Options{
		Debounce:         cfg.Sync.Debounce,
		ScanCeiling:      cfg.Sync.ScanCeiling,
		RegenerateOnMove: cfg.Sync.RegenerateOnMove,
	})
	for _, pc := range cfg.Projects {
		if _, err := svc.AddProject(pc.Name, pc.Path, pc.Default); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("register project %q: %w", pc.Name, err)
		}
	}
	return st, svc, nil
}

// Run starts the HTTP server with sync workers, the SSE broker, and the
// REST API.
func Run(ctx context.Context, opts ...Option) error {
	cfg, err := buildApp(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.Int("projects", len(cfg.Projects)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	notify := func(project string, ev syncpkg.Event, ent *store.Entity) {
		permalink := ""
		if ent != nil {
			permalink = ent.Permalink
		}
		broker.PublishEntityEvent(project, string(ev.Kind), ev.Path, permalink)
	}

	st, svc, err := bootstrap(cfg, logger, notify)
	if err != nil {
		return err
	}
	defer st.Close()

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// One sync worker per project; projects registered over the API after
	// startup get theirs through the runner.
	startWorker := func(p *service.Project) {
		worker := p.Worker
		g.Go(func() error {
			return worker.Run(gCtx)
		})
	}
	svc.SetRunner(startWorker)
	for _, p := range svc.Projects() {
		startWorker(p)
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio with sync workers in the
// background. Logs go to stderr; stdout belongs to the MCP transport.
func RunMCP(ctx context.Context, opts ...Option) error {
	cfg, err := buildApp(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	st, svc, err := bootstrap(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	g, gCtx := errgroup.WithContext(ctx)
	for _, p := range svc.Projects() {
		worker := p.Worker
		g.Go(func() error {
			return worker.Run(gCtx)
		})
	}
	g.Go(func() error {
		return mcpserver.New(svc).ServeStdio()
	})

	return g.Wait()
}

// RunScan performs a one-shot full reconcile and exits. An empty
// projectRef scans every configured project.
func RunScan(ctx context.Context, projectRef string, opts ...Option) error {
	cfg, err := buildApp(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	st, svc, err := bootstrap(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	targets := svc.Projects()
	if projectRef != "" {
		p, err := svc.Project(projectRef)
		if err != nil {
			return err
		}
		targets = []*service.Project{p}
	}

	for _, p := range targets {
		report, err := p.Worker.ScanOnce(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", p.Permalink, err)
		}
		logger.Info("scan finished",
			slog.String("project", p.Permalink),
			slog.Int("created", report.Created),
			slog.Int("modified", report.Modified),
			slog.Int("deleted", report.Deleted),
			slog.Int("moved", report.Moved),
			slog.Int("failed", report.Failed),
			slog.String("took", report.Took))
	}
	return nil
}
