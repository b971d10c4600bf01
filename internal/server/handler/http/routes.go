// Package http provides HTTP routing and handlers for the SecureShare API.
package http

import (
	"net/http"

	"github.com/atinyakov/secureshare/internal/middleware"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the
// SecureShare API.
//
// Routes:
//
//	GET    /api/health          → healthHandler.Health
//	GET    /api/health/storage  → healthHandler.Storage
//	POST   /api/notes           → noteHandler.Create   (authenticated)
//	POST   /api/notes/create    → noteHandler.Create   (authenticated, legacy path)
//	GET    /api/notes/{id}      → noteHandler.Get      (authenticated)
//	DELETE /api/notes/{id}      → noteHandler.Delete   (authenticated)
//
// auth resolves the caller identity for the notes routes; pass
// middleware.CertAuth in production. Responses are gzip-compressed when
// the client accepts it.
func NewRouter(
	noteHandler *NoteHandler,
	healthHandler *HealthHandler,
	auth func(http.Handler) http.Handler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Get("/health/storage", healthHandler.Storage)

		r.Route("/notes", func(r chi.Router) {
			r.Use(auth)
			create := r.With(chiMiddleware.AllowContentType("application/json"))
			create.Post("/", noteHandler.Create)
			create.Post("/create", noteHandler.Create)
			r.Get("/{id}", noteHandler.Get)
			r.Delete("/{id}", noteHandler.Delete)
		})
	})

	return gzhttp.GzipHandler(r)
}
