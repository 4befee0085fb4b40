package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"modelgate/internal/handlers"
	"modelgate/internal/metrics"
	"modelgate/internal/middleware"
)

// Options tunes the middleware chain. Zero values disable the
// corresponding limit.
type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Handlers groups the endpoint handlers the router mounts.
type Handlers struct {
	Chat   *handlers.ChatHandler
	Health *handlers.HealthHandler
	Models *handlers.ModelsHandler
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, opts Options, h Handlers) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer()) // panic recovery
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	if opts.MaxBodyBytes > 0 {
		r.Use(middleware.MaxBody(opts.MaxBodyBytes))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", h.Models.ListModels)
		r.Post("/chat/completions", h.Chat.ChatCompletion)
	})

	// health check
	r.Get("/health", h.Health.Health)

	r.Handle("/metrics", metrics.Handler())
}
