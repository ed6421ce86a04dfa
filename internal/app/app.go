package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"go-file-transfer/internal/config"
	"go-file-transfer/internal/database"
	"go-file-transfer/internal/event"
	"go-file-transfer/internal/handler"
	"go-file-transfer/internal/logger"
	"go-file-transfer/internal/middleware"
	"go-file-transfer/internal/repository"
	"go-file-transfer/internal/router"
	"go-file-transfer/internal/service"
	"go-file-transfer/internal/storage"
	"go-file-transfer/internal/websocket"
)

type App struct {
	cfg        *config.Config
	server     *http.Server
	db         *database.DB
	tasks      *service.TaskService
	chunks     *service.ChunkStore
	operations *service.OperationService
	hub        *websocket.Hub
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := storage.New(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{cfg: cfg}

	bus := event.NewBus()
	var tasks *service.TaskService
	if cfg.DatabaseURL != "" {
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, database.Options{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		a.db = db
		tasks = service.NewTaskService(repository.NewTaskRepository(db.Pool), bus)
		slog.Info("database ready")
	} else {
		slog.Warn("DATABASE_URL not set; tasks are kept in memory only")
		tasks = service.NewTaskService(nil, bus)
	}

	if err := tasks.Restore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to restore tasks: %w", err)
	}

	batches := service.NewBatchService(store, tasks)
	chunks, err := service.NewChunkStore(store, tasks, cfg.ChunkTempDir, cfg.ChunkMaxSize)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize chunk store: %w", err)
	}
	tasks.OnCancel(func(taskID string) {
		chunks.Discard(taskID)
		batches.Release(taskID)
	})

	downloads := retryablehttp.NewClient()
	downloads.RetryMax = 3
	downloads.Logger = logger.RetryLogger{Logger: slog.Default().With("component", "download")}
	operations := service.NewOperationService(store, tasks, downloads.StandardClient(), cfg.TaskWorkers)

	tokens := service.NewTokenService(cfg.JWTSecret)
	hub := websocket.NewHub(bus)

	var ready func(context.Context) error
	if a.db != nil {
		ready = a.db.Health
	}

	appRouter := router.New(
		cfg,
		ready,
		middleware.NewAuthMiddleware(tokens),
		handler.NewTasksHandler(tasks, operations),
		handler.NewUploadHandler(batches, chunks, cfg.ChunkMaxSize),
		handler.NewWSHandler(hub),
	)

	a.tasks = tasks
	a.chunks = chunks
	a.operations = operations
	a.hub = hub
	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

// Handler returns the routed API, for serving it outside Run.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Start launches the background workers: event fan-out, chunk cleanup, the
// stale task sweeper and the operation pool. They stop with ctx.
func (a *App) Start(ctx context.Context) {
	go a.hub.Run(ctx)
	go a.chunks.StartCleanupTicker(ctx, a.cfg.ChunkExpiry)
	go a.tasks.StartStaleSweeper(ctx, a.cfg.TaskStaleAfter)
	a.operations.Start(ctx)
}

// Wait blocks until operation workers started by Start have returned.
func (a *App) Wait() {
	a.operations.Wait()
}

// Run serves until ctx is cancelled, then shuts down gracefully. Running
// server-side tasks are marked interrupted when their workers stop.
func (a *App) Run(ctx context.Context) error {
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	a.Start(workCtx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr, "storage_root", a.cfg.StorageRoot)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			a.close()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	stopWork()
	a.Wait()
	a.close()

	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) close() {
	if a.db != nil {
		a.db.Close()
	}
}
