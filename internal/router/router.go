package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-file-transfer/internal/config"
	"go-file-transfer/internal/handler"
	"go-file-transfer/internal/middleware"
)

func New(
	cfg *config.Config,
	ready func(context.Context) error,
	authMiddleware *middleware.AuthMiddleware,
	tasksHandler *handler.TasksHandler,
	uploadHandler *handler.UploadHandler,
	wsHandler *handler.WSHandler,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.UploadRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health also covers the task database when one is configured.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(rateLimitMiddleware.Handler)
		api.Use(authMiddleware.RequireAuth)

		// Long-lived: no request timeout.
		api.Get("/ws", wsHandler.Serve)

		api.Route("/tasks", func(tasks chi.Router) {
			tasks.With(middleware.UploadTimeout(cfg.UploadTimeout, cfg.UploadIdleTimeout)).Post("/upload", uploadHandler.Upload)

			tasks.Group(func(ctl chi.Router) {
				ctl.Use(middleware.Timeout(cfg.RequestTimeout))

				ctl.Post("/upload/batch", uploadHandler.CreateBatch)
				ctl.Post("/upload/chunks", uploadHandler.ChunkStatus)
				ctl.Post("/upload/finish", uploadHandler.FinishBatch)
				ctl.Post("/operations", tasksHandler.CreateOperation)

				ctl.Get("/", tasksHandler.List)
				ctl.Get("/paged", tasksHandler.Paged)
				ctl.Get("/{task_id}", tasksHandler.Get)

				ctl.Post("/pause", tasksHandler.Pause)
				ctl.Post("/resume", tasksHandler.Resume)
				ctl.Post("/cancel", tasksHandler.Cancel)
				ctl.Post("/retry", tasksHandler.Retry)
				ctl.Post("/remove", tasksHandler.Remove)
				ctl.Post("/clear", tasksHandler.Clear)
				ctl.With(authMiddleware.RequireRoles("admin")).Post("/clear_all", tasksHandler.ClearAll)
			})
		})
	})

	return r
}
