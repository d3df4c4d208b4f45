package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/providers/leonardo"
)

const (
	maxPromptLen = 500
	// maxInlineBody bounds the request body for inline image payloads.
	maxInlineBody = 10 << 20
)

type generateRequest struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negativePrompt"`
	ImageURL       string   `json:"imageUrl"`
	ImageData      string   `json:"imageData"`
	Strength       *float64 `json:"strength"`
}

type generateResponse struct {
	ID           string `json:"id"`
	ImageURL     string `json:"imageUrl"`
	GenerationID string `json:"generationId"`
}

// ImagesGenerate handles text-to-image requests.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInlineBody)).Decode(&req); err != nil {
		a.fail(w, r, &domain.Error{Kind: domain.KindValidation, Message: "invalid payload", StatusCode: http.StatusBadRequest})
		return
	}
	if norm := validatePrompts(req); norm != nil {
		a.fail(w, r, norm)
		return
	}

	a.runGeneration(w, r, req, nil)
}

// ImagesGenerateFromImage handles image-to-image requests. The source image
// arrives either as a fetchable URL or as inline data (data URL or raw
// base64); the two stay distinct all the way to the provider.
func (a *App) ImagesGenerateFromImage(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInlineBody)).Decode(&req); err != nil {
		a.fail(w, r, &domain.Error{Kind: domain.KindValidation, Message: "invalid payload", StatusCode: http.StatusBadRequest})
		return
	}
	if norm := validatePrompts(req); norm != nil {
		a.fail(w, r, norm)
		return
	}
	if req.Strength != nil && (*req.Strength < 0 || *req.Strength > 1) {
		a.fail(w, r, &domain.Error{Kind: domain.KindValidation, Message: "strength must be between 0 and 1", StatusCode: http.StatusBadRequest})
		return
	}
	source, norm := sourceFromRequest(req)
	if norm != nil {
		a.fail(w, r, norm)
		return
	}

	a.runGeneration(w, r, req, source)
}

func (a *App) runGeneration(w http.ResponseWriter, r *http.Request, req generateRequest, source *leonardo.SourceImage) {
	ctx := r.Context()
	record := &domain.Generation{
		ID:             uuid.NewString(),
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		Strength:       req.Strength,
		Status:         domain.GenerationPending,
		CreatedAt:      time.Now().UTC(),
	}
	if source != nil {
		record.SourceURL = source.URL
	}
	if err := a.Generations.Create(ctx, record); err != nil {
		a.fail(w, r, err)
		return
	}

	genReq := leonardo.GenerateRequest{
		Prompt:         record.Prompt,
		NegativePrompt: record.NegativePrompt,
		Source:         source,
		Strength:       req.Strength,
	}
	var result *leonardo.GenerateResult
	var err error
	if source != nil {
		result, err = a.Images.GenerateImageFromImage(ctx, genReq)
	} else {
		result, err = a.Images.GenerateImage(ctx, genReq)
	}
	if err != nil {
		norm := normalizeError(err)
		// Settling the record is bookkeeping; its failure must not mask the
		// generation error.
		if dbErr := a.Generations.MarkFailed(ctx, record.ID, "", norm.Message); dbErr != nil {
			a.Logger.Error().Err(dbErr).Str("generation_id", record.ID).Msg("failed to settle generation record")
		}
		a.fail(w, r, err)
		return
	}

	if dbErr := a.Generations.MarkComplete(ctx, record.ID, result.JobID, result.ImageURL); dbErr != nil {
		a.Logger.Error().Err(dbErr).Str("generation_id", record.ID).Msg("failed to settle generation record")
	}
	a.json(w, http.StatusOK, generateResponse{ID: record.ID, ImageURL: result.ImageURL, GenerationID: result.JobID})
}

type uploadRequest struct {
	ImageURL string `json:"imageUrl"`
}

// ImagesUpload registers a source image with the provider ahead of time.
// Accepts either a JSON body with an image URL or a multipart form with a
// file field.
func (a *App) ImagesUpload(w http.ResponseWriter, r *http.Request) {
	source, norm := uploadSource(r)
	if norm != nil {
		a.fail(w, r, norm)
		return
	}
	asset, err := a.Images.UploadImage(r.Context(), source)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"assetId":   asset.ID,
		"sourceUrl": asset.SourceURL,
	})
}

func uploadSource(r *http.Request) (*leonardo.SourceImage, *domain.Error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxInlineBody); err != nil {
			return nil, &domain.Error{Kind: domain.KindValidation, Message: "invalid multipart form", StatusCode: http.StatusBadRequest}
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, &domain.Error{Kind: domain.KindValidation, Message: "file field is required", StatusCode: http.StatusBadRequest}
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxInlineBody))
		if err != nil || len(data) == 0 {
			return nil, &domain.Error{Kind: domain.KindValidation, Message: "could not read uploaded file", StatusCode: http.StatusBadRequest}
		}
		return &leonardo.SourceImage{Data: data}, nil
	}

	var req uploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInlineBody)).Decode(&req); err != nil {
		return nil, &domain.Error{Kind: domain.KindValidation, Message: "invalid payload", StatusCode: http.StatusBadRequest}
	}
	if !isHTTPURL(req.ImageURL) {
		return nil, &domain.Error{Kind: domain.KindValidation, Message: "imageUrl must be a valid URL", StatusCode: http.StatusBadRequest}
	}
	return &leonardo.SourceImage{URL: strings.TrimSpace(req.ImageURL)}, nil
}

// GenerationGet returns a persisted generation record.
func (a *App) GenerationGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.fail(w, r, &domain.Error{Kind: domain.KindValidation, Message: "id required", StatusCode: http.StatusBadRequest})
		return
	}
	gen, err := a.Generations.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.json(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND", "message": "generation not found"})
			return
		}
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, generationView(gen))
}

// GenerationsList returns the most recent generation records.
func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			a.fail(w, r, &domain.Error{Kind: domain.KindValidation, Message: "limit must be between 1 and 100", StatusCode: http.StatusBadRequest})
			return
		}
		limit = parsed
	}
	items, err := a.Generations.ListRecent(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for i := range items {
		views = append(views, generationView(&items[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": views})
}

func generationView(gen *domain.Generation) map[string]any {
	view := map[string]any{
		"id":         gen.ID,
		"prompt":     gen.Prompt,
		"status":     gen.Status,
		"created_at": gen.CreatedAt,
		"updated_at": gen.UpdatedAt,
	}
	if gen.NegativePrompt != "" {
		view["negative_prompt"] = gen.NegativePrompt
	}
	if gen.SourceURL != "" {
		view["source_url"] = gen.SourceURL
	}
	if gen.Strength != nil {
		view["strength"] = *gen.Strength
	}
	if gen.JobID != "" {
		view["job_id"] = gen.JobID
	}
	if gen.ImageURL != "" {
		view["image_url"] = gen.ImageURL
	}
	if gen.ErrorMessage != "" {
		view["error_message"] = gen.ErrorMessage
	}
	return view
}

func validatePrompts(req generateRequest) *domain.Error {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return &domain.Error{Kind: domain.KindValidation, Message: "prompt is required", StatusCode: http.StatusBadRequest}
	}
	if len(prompt) > maxPromptLen {
		return &domain.Error{Kind: domain.KindValidation, Message: "prompt must be less than 500 characters", StatusCode: http.StatusBadRequest}
	}
	if len(req.NegativePrompt) > maxPromptLen {
		return &domain.Error{Kind: domain.KindValidation, Message: "negative prompt must be less than 500 characters", StatusCode: http.StatusBadRequest}
	}
	return nil
}

func sourceFromRequest(req generateRequest) (*leonardo.SourceImage, *domain.Error) {
	hasURL := strings.TrimSpace(req.ImageURL) != ""
	hasData := strings.TrimSpace(req.ImageData) != ""
	switch {
	case hasURL && hasData:
		return nil, &domain.Error{Kind: domain.KindValidation, Message: "provide imageUrl or imageData, not both", StatusCode: http.StatusBadRequest}
	case hasURL:
		if !isHTTPURL(req.ImageURL) {
			return nil, &domain.Error{Kind: domain.KindValidation, Message: "imageUrl must be a valid URL", StatusCode: http.StatusBadRequest}
		}
		return &leonardo.SourceImage{URL: strings.TrimSpace(req.ImageURL)}, nil
	case hasData:
		data, err := decodeInlineImage(req.ImageData)
		if err != nil {
			return nil, &domain.Error{Kind: domain.KindValidation, Message: "imageData is not valid base64", StatusCode: http.StatusBadRequest}
		}
		return &leonardo.SourceImage{Data: data}, nil
	default:
		return nil, &domain.Error{Kind: domain.KindValidation, Message: "imageUrl or imageData is required", StatusCode: http.StatusBadRequest}
	}
}

// decodeInlineImage accepts a data URL or bare base64.
func decodeInlineImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(raw)
}

func isHTTPURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
