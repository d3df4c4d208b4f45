package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter wires the API surface. Generation endpoints sit behind a
// per-client rate limit; the provider's own rate limit is still the shared
// bottleneck, the local limiter just keeps one client from hogging it.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/healthz", app.Health)
	r.Get("/readyz", app.Ready)

	r.Route("/api", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			r.Post("/generate", app.ImagesGenerate)
			r.Post("/generate-from-image", app.ImagesGenerateFromImage)
			r.Post("/upload", app.ImagesUpload)
		})
		r.Route("/generations", func(r chi.Router) {
			r.Get("/", app.GenerationsList)
			r.Get("/{id}", app.GenerationGet)
		})
	})

	return r
}
