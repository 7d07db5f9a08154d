package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"conveyor/internal/journal"
	"conveyor/internal/library"
	"conveyor/internal/logging"
	"conveyor/internal/manifest"
	"conveyor/internal/services"
	"conveyor/internal/tasks"
)

// Library reads and rebuilds the index.
type Library interface {
	Load() (*library.Index, error)
	Rebuild(ctx context.Context) error
}

// Buckets loads manifests.
type Buckets interface {
	Load(hashID string) (*manifest.Manifest, error)
}

// History lists journal runs.
type History interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Run, error)
}

// Kicker is told when a request queued work for a bucket.
type Kicker interface {
	Kick(hashID string)
}

// Deps are the services behind the handlers. History and Kicker are optional.
type Deps struct {
	Library Library
	Buckets Buckets
	Tasks   *tasks.Service
	History History
	Kicker  Kicker
	Logger  *slog.Logger
}

// Handler holds API route handlers.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, logger: logging.NewComponentLogger(deps.Logger, "api")}
}

// NewRouter creates a chi router with all API routes mounted under /api.
func NewRouter(deps Deps) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(correlate)
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		// Library.
		r.Get("/library", h.ListLibrary)
		r.Post("/library/rebuild", h.RebuildLibrary)

		// Buckets.
		r.Post("/buckets", h.Ingest)
		r.Route("/buckets/{hashId}", func(r chi.Router) {
			r.Get("/", h.GetBucket)
			r.Post("/upgrade-quality", h.UpgradeQuality)
			r.Post("/purge-media", h.PurgeMedia)
			r.Post("/screenshots", h.ExtractScreenshots)
			r.Post("/chats", h.ManageChats)
			r.Post("/tasks/{taskId}/reset", h.ResetTask)
		})

		// Journal.
		r.Get("/history", h.History)
	})
	return r
}

// correlate copies the request id into the context so service log lines
// carry it as correlation_id.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// notFound is used for routes whose optional dependency is absent.
func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody("not found"))
}
