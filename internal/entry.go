// Package internal provides the main application initialization and runtime logic.
package internal

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
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/coherence/internal/api"
	"github.com/starford/coherence/internal/index"
	"github.com/starford/coherence/internal/mcpserver"
	"github.com/starford/coherence/internal/metrics"
	"github.com/starford/coherence/internal/monitor"
	"github.com/starford/coherence/internal/sse"
	"github.com/starford/coherence/internal/storage"
)

// runtime holds the components shared by the HTTP and MCP front ends.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	store   storage.Provider
	db      *index.DB
	svc     *monitor.Service
	metrics *metrics.Collector
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
}

// open prepares storage and the record log, syncs the records directory and
// replays the log into a fresh monitor service.
func (a *application) open(ctx context.Context, logger *slog.Logger, notifier monitor.Notifier) (*runtime, error) {
	cfg := a.config

	if err := os.MkdirAll(cfg.Records.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Records.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init record log: %w", err)
	}

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	collector := metrics.NewCollector("coherence")
	opts := []monitor.Option{
		monitor.WithRecordLog(db),
		monitor.WithStore(store),
		monitor.WithMetrics(collector),
		monitor.WithLogger(logger),
	}
	if notifier != nil {
		opts = append(opts, monitor.WithNotifier(notifier))
	}
	svc, err := monitor.NewService(cfg.Coherence, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := svc.Restore(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, logger: logger, store: store, db: db, svc: svc, metrics: collector}, nil
}

// newRouter builds the HTTP handler: health checks, metrics and the API.
func newRouter(rt *runtime, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(rt.metrics.Middleware)

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
	r.Handle("/metrics", rt.metrics.Handler())

	var stream http.Handler
	if broker != nil {
		stream = broker
	}
	r.Mount("/api", api.NewRouter(rt.svc, rt.cfg.Auth.AuthEnabled(), rt.cfg.Auth.Token, stream))
	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.newLogger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("records_path", cfg.Records.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Duration("window_size", cfg.Coherence.WindowSize),
		slog.Duration("window_step", cfg.Coherence.WindowStep),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(cfg.App.HTTP.HistoryThrottle)
	defer broker.Close()

	rt, err := app.open(ctx, logger, broker)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newRouter(rt, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher feeding new records into the monitor.
	if cfg.Records.Watch {
		g.Go(func() error {
			if err := index.Watch(gCtx, rt.db, rt.store, cfg.Records.Path, logger, rt.svc.HandleFileEvent); err != nil {
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}

	// Start HTTP server.
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
		defer signal.Stop(quit)

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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// ServeMCP restores the monitor and serves MCP tools over stdio.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.newLogger()
	slog.SetDefault(logger)

	rt, err := app.open(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	logger.Info("MCP server starting", slog.String("records_path", app.config.Records.Path))
	return mcpserver.New(rt.svc).ServeStdio()
}
