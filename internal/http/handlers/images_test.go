package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/leonardo"
)

type fakeImageService struct {
	generate          func(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error)
	generateFromImage func(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error)
	upload            func(ctx context.Context, src *leonardo.SourceImage) (*leonardo.UploadedAsset, error)
	calls             int
}

func (f *fakeImageService) GenerateImage(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error) {
	f.calls++
	return f.generate(ctx, req)
}

func (f *fakeImageService) GenerateImageFromImage(ctx context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error) {
	f.calls++
	return f.generateFromImage(ctx, req)
}

func (f *fakeImageService) UploadImage(ctx context.Context, src *leonardo.SourceImage) (*leonardo.UploadedAsset, error) {
	f.calls++
	return f.upload(ctx, src)
}

type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*domain.Generation
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: map[string]*domain.Generation{}}
}

func (m *memoryRepo) Create(_ context.Context, gen *domain.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *gen
	m.records[gen.ID] = &copied
	return nil
}

func (m *memoryRepo) MarkComplete(_ context.Context, id, jobID, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen, ok := m.records[id]; ok {
		gen.Status = domain.GenerationComplete
		gen.JobID = jobID
		gen.ImageURL = imageURL
	}
	return nil
}

func (m *memoryRepo) MarkFailed(_ context.Context, id, jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen, ok := m.records[id]; ok {
		gen.Status = domain.GenerationFailed
		gen.JobID = jobID
		gen.ErrorMessage = message
	}
	return nil
}

func (m *memoryRepo) GetByID(_ context.Context, id string) (*domain.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *gen
	return &copied, nil
}

func (m *memoryRepo) ListRecent(_ context.Context, limit int) ([]domain.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Generation
	for _, gen := range m.records {
		if len(out) == limit {
			break
		}
		out = append(out, *gen)
	}
	return out, nil
}

func (m *memoryRepo) single(t *testing.T) *domain.Generation {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) != 1 {
		t.Fatalf("records = %d, want 1", len(m.records))
	}
	for _, gen := range m.records {
		copied := *gen
		return &copied
	}
	return nil
}

func newTestApp(service ImageService, generations domain.GenerationRepository) *App {
	logger := infra.Logger(zerolog.New(io.Discard))
	return NewApp(service, generations, logger)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestImagesGenerateSuccess(t *testing.T) {
	repo := newMemoryRepo()
	service := &fakeImageService{
		generate: func(_ context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error) {
			if req.Prompt != "a red bicycle" || req.Source != nil {
				t.Fatalf("unexpected request: %+v", req)
			}
			return &leonardo.GenerateResult{ImageURL: "https://cdn/x.png", JobID: "job-1"}, nil
		},
	}
	app := newTestApp(service, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/images/generate", strings.NewReader(`{"prompt":"a red bicycle"}`))
	rec := httptest.NewRecorder()
	app.ImagesGenerate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["imageUrl"] != "https://cdn/x.png" || body["generationId"] != "job-1" {
		t.Fatalf("body = %v", body)
	}

	record := repo.single(t)
	if record.Status != domain.GenerationComplete || record.ImageURL != "https://cdn/x.png" || record.JobID != "job-1" {
		t.Fatalf("record = %+v", record)
	}
}

func TestImagesGenerateValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty prompt", `{"prompt":"  "}`},
		{"long prompt", `{"prompt":"` + strings.Repeat("x", 501) + `"}`},
		{"long negative prompt", `{"prompt":"ok","negativePrompt":"` + strings.Repeat("x", 501) + `"}`},
		{"malformed json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &fakeImageService{}
			app := newTestApp(service, newMemoryRepo())
			req := httptest.NewRequest(http.MethodPost, "/api/images/generate", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			app.ImagesGenerate(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body := decodeBody(t, rec); body["error"] != "VALIDATION_ERROR" {
				t.Fatalf("error = %v", body["error"])
			}
			if service.calls != 0 {
				t.Fatalf("provider must not be called on invalid input")
			}
		})
	}
}

func TestImagesGenerateFromImageInlineData(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff}
	repo := newMemoryRepo()
	service := &fakeImageService{
		generateFromImage: func(_ context.Context, req leonardo.GenerateRequest) (*leonardo.GenerateResult, error) {
			if req.Source == nil || !bytes.Equal(req.Source.Data, payload) || req.Source.URL != "" {
				t.Fatalf("source = %+v", req.Source)
			}
			if req.Strength != nil {
				t.Fatalf("strength should be absent, got %v", *req.Strength)
			}
			return &leonardo.GenerateResult{ImageURL: "https://cdn/y.png", JobID: "job-2"}, nil
		},
	}
	app := newTestApp(service, repo)

	body := `{"prompt":"a knight","imageData":"data:image/jpeg;base64,` + base64.StdEncoding.EncodeToString(payload) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/images/generate-from-image", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.ImagesGenerateFromImage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestImagesGenerateFromImageStrengthBounds(t *testing.T) {
	app := newTestApp(&fakeImageService{}, newMemoryRepo())
	body := `{"prompt":"a knight","imageUrl":"https://cdn/p.jpg","strength":1.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/images/generate-from-image", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.ImagesGenerateFromImage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestImagesGenerateFromImageFailure(t *testing.T) {
	repo := newMemoryRepo()
	service := &fakeImageService{
		generateFromImage: func(context.Context, leonardo.GenerateRequest) (*leonardo.GenerateResult, error) {
			return nil, &leonardo.GenerationError{JobID: "job-2", Message: "nsfw-content"}
		},
	}
	app := newTestApp(service, repo)

	body := `{"prompt":"a knight","imageUrl":"https://cdn/p.jpg"}`
	req := httptest.NewRequest(http.MethodPost, "/api/images/generate-from-image", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.ImagesGenerateFromImage(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	respBody := decodeBody(t, rec)
	if respBody["error"] != "GENERATION_FAILED" {
		t.Fatalf("error = %v", respBody["error"])
	}
	if msg, _ := respBody["message"].(string); !strings.Contains(msg, "nsfw-content") {
		t.Fatalf("message = %q, should carry provider detail", msg)
	}

	record := repo.single(t)
	if record.Status != domain.GenerationFailed || !strings.Contains(record.ErrorMessage, "nsfw-content") {
		t.Fatalf("record = %+v", record)
	}
}

func TestImagesGenerateTimeout(t *testing.T) {
	service := &fakeImageService{
		generate: func(context.Context, leonardo.GenerateRequest) (*leonardo.GenerateResult, error) {
			return nil, &leonardo.TimeoutError{JobID: "job-1", Attempts: 30}
		},
	}
	app := newTestApp(service, newMemoryRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/images/generate", strings.NewReader(`{"prompt":"a red bicycle"}`))
	rec := httptest.NewRecorder()
	app.ImagesGenerate(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "GENERATION_TIMEOUT" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestImagesGenerateProviderStatusPassthrough(t *testing.T) {
	service := &fakeImageService{
		generate: func(context.Context, leonardo.GenerateRequest) (*leonardo.GenerateResult, error) {
			return nil, &leonardo.APIError{StatusCode: http.StatusTooManyRequests, Message: "rate limit exceeded"}
		},
	}
	app := newTestApp(service, newMemoryRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/images/generate", strings.NewReader(`{"prompt":"a red bicycle"}`))
	rec := httptest.NewRecorder()
	app.ImagesGenerate(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "PROVIDER_API_ERROR" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestImagesUploadJSON(t *testing.T) {
	service := &fakeImageService{
		upload: func(_ context.Context, src *leonardo.SourceImage) (*leonardo.UploadedAsset, error) {
			if src.URL != "https://cdn/p.jpg" || len(src.Data) != 0 {
				t.Fatalf("source = %+v", src)
			}
			return &leonardo.UploadedAsset{ID: "a-1", SourceURL: src.URL}, nil
		},
	}
	app := newTestApp(service, newMemoryRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/images/upload", strings.NewReader(`{"imageUrl":"https://cdn/p.jpg"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.ImagesUpload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["assetId"] != "a-1" || body["sourceUrl"] != "https://cdn/p.jpg" {
		t.Fatalf("body = %v", body)
	}
}

func TestImagesUploadMultipart(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	service := &fakeImageService{
		upload: func(_ context.Context, src *leonardo.SourceImage) (*leonardo.UploadedAsset, error) {
			if !bytes.Equal(src.Data, payload) || src.URL != "" {
				t.Fatalf("source = %+v", src)
			}
			return &leonardo.UploadedAsset{ID: "a-2"}, nil
		},
	}
	app := newTestApp(service, newMemoryRepo())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "kid.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/images/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	app.ImagesUpload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["assetId"] != "a-2" {
		t.Fatalf("body = %v", body)
	}
}

func TestGenerationGetNotFound(t *testing.T) {
	app := newTestApp(&fakeImageService{}, newMemoryRepo())

	router := chi.NewRouter()
	router.Get("/api/generations/{id}", app.GenerationGet)
	req := httptest.NewRequest(http.MethodGet, "/api/generations/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGenerationGetFound(t *testing.T) {
	repo := newMemoryRepo()
	strength := 0.7
	_ = repo.Create(context.Background(), &domain.Generation{
		ID:       "gen-1",
		Prompt:   "a red bicycle",
		Status:   domain.GenerationComplete,
		ImageURL: "https://cdn/x.png",
		Strength: &strength,
	})
	app := newTestApp(&fakeImageService{}, repo)

	router := chi.NewRouter()
	router.Get("/api/generations/{id}", app.GenerationGet)
	req := httptest.NewRequest(http.MethodGet, "/api/generations/gen-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["image_url"] != "https://cdn/x.png" || body["status"] != "COMPLETE" {
		t.Fatalf("body = %v", body)
	}
	if body["strength"] != 0.7 {
		t.Fatalf("strength = %v", body["strength"])
	}
}
