package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/leonardo"
)

// ImageService is the slice of the Leonardo client the handlers consume.
// Tests substitute a fake.
type ImageService interface {
	GenerateImage(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error)
	GenerateImageFromImage(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error)
	UploadImage(ctx context.Context, src *leonardo.SourceImage) (*leonardo.UploadedAsset, error)
}

// Pinger is the slice of the database pool the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App bundles the dependencies the HTTP handlers need. DB is optional; when
// nil the readiness probe reports ready without checking the database.
type App struct {
	Images      ImageService
	Generations domain.GenerationRepository
	Logger      infra.Logger
	DB          Pinger
}

func NewApp(images ImageService, generations domain.GenerationRepository, logger infra.Logger) *App {
	return &App{Images: images, Generations: generations, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail normalizes err and writes it. This is the only path an error takes
// out of the service; raw transport failures never reach the response.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	norm := normalizeError(err)
	a.Logger.Error().
		Err(err).
		Str("kind", string(norm.Kind)).
		Int("status", norm.StatusCode).
		Str("path", r.URL.Path).
		Msg("request failed")
	a.json(w, norm.StatusCode, map[string]string{
		"error":   string(norm.Kind),
		"message": norm.Message,
	})
}
