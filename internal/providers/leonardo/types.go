package leonardo

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// SourceImage is the input for image-to-image flows. Exactly one of URL or
// Data is populated: a fetchable location or self-contained bytes. The two
// are distinct paths all the way to the provider and never fall back to one
// another.
type SourceImage struct {
	URL  string
	Data []byte
}

// extension picks the init-image extension the provider expects. Inline
// payloads and unrecognized URLs default to jpg like the upstream clients do.
func (s *SourceImage) extension() string {
	if s == nil || s.URL == "" {
		return "jpg"
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.SplitN(s.URL, "?", 2)[0]), "."))
	switch ext {
	case "png", "jpg", "jpeg", "webp":
		return ext
	}
	return "jpg"
}

// GenerateRequest captures one validated generation call. Strength is a
// pointer so "absent" stays distinguishable from 0.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Source         *SourceImage
	Strength       *float64
}

// GenerateResult is the resolved outcome of a generation job.
type GenerateResult struct {
	ImageURL string
	JobID    string
}

// UploadedAsset identifies a source image registered with the provider. The
// ID is consumed by the subsequent generation submission; callers never need
// the presigned destination again.
type UploadedAsset struct {
	ID        string
	SourceURL string
}

// APIError is produced at the transport boundary for every non-2xx provider
// response. Deeper layers branch on it via errors.As instead of re-probing
// response fields.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("leonardo: api error %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus satisfies retry.HTTPStatuser.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// GenerationError reports that the provider explicitly marked a job FAILED.
// Terminal: the job will never complete, resubmission is the caller's call.
type GenerationError struct {
	JobID   string
	Message string
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "image generation failed"
	}
	return fmt.Sprintf("leonardo: generation %s failed: %s", e.JobID, msg)
}

// TimeoutError reports that the polling budget ran out before the job
// resolved either way.
type TimeoutError struct {
	JobID    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("leonardo: generation %s still pending after %d polls", e.JobID, e.Attempts)
}

// UploadError wraps a failure from any step of the asset upload pipeline.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string { return "leonardo: upload image: " + e.Err.Error() }

func (e *UploadError) Unwrap() error { return e.Err }

var (
	// ErrMissingAPIKey indicates the client was configured without credentials.
	ErrMissingAPIKey = errors.New("leonardo: api key is required")
	// ErrMissingInitImage indicates an image-to-image payload was requested
	// without a previously uploaded asset.
	ErrMissingInitImage = errors.New("leonardo: init image id is required for image-to-image")
	// ErrPayloadTooLarge indicates a source image exceeded the upload cap.
	ErrPayloadTooLarge = errors.New("leonardo: source image exceeds size limit")
)

type submitResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

type statusResponse struct {
	GenerationsByPK struct {
		Status          string `json:"status"`
		Error           string `json:"error"`
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

type initImageResponse struct {
	UploadInitImage struct {
		ID     string          `json:"id"`
		URL    string          `json:"url"`
		Fields json.RawMessage `json:"fields"`
	} `json:"uploadInitImage"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
