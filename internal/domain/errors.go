package domain

import "errors"

// ErrorKind tags a normalized error with its failure class.
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindProviderAPI       ErrorKind = "PROVIDER_API_ERROR"
	KindAssetUploadFailed ErrorKind = "ASSET_UPLOAD_FAILED"
	KindGenerationFailed  ErrorKind = "GENERATION_FAILED"
	KindGenerationTimeout ErrorKind = "GENERATION_TIMEOUT"
	KindInternal          ErrorKind = "INTERNAL_ERROR"
)

// Error is the only failure shape that leaves the service boundary. Terminal:
// once produced it is surfaced to the caller, never retried.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// HTTPStatus exposes the response status for callers that branch on it.
func (e *Error) HTTPStatus() int { return e.StatusCode }

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidPrompt = errors.New("invalid prompt")
)
