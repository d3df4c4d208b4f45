package handlers

import (
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/providers/leonardo"
	"server/internal/retry"
)

// normalizeError maps any failure to the single structured shape callers
// see. It never panics and always yields a usable kind/status pair.
func normalizeError(err error) *domain.Error {
	var norm *domain.Error
	if errors.As(err, &norm) {
		return norm
	}

	var upErr *leonardo.UploadError
	if errors.As(err, &upErr) {
		status := http.StatusBadGateway
		if errors.Is(err, leonardo.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		} else {
			var apiErr *leonardo.APIError
			if errors.As(err, &apiErr) {
				status = apiErr.StatusCode
			}
		}
		return &domain.Error{Kind: domain.KindAssetUploadFailed, Message: upErr.Error(), StatusCode: status}
	}

	var genErr *leonardo.GenerationError
	if errors.As(err, &genErr) {
		return &domain.Error{Kind: domain.KindGenerationFailed, Message: genErr.Error(), StatusCode: http.StatusBadGateway}
	}

	var timeoutErr *leonardo.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &domain.Error{Kind: domain.KindGenerationTimeout, Message: timeoutErr.Error(), StatusCode: http.StatusGatewayTimeout}
	}

	// Exhausted retries normalize as whatever the last attempt saw.
	var exhausted *retry.Exhausted
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		return normalizeError(exhausted.Err)
	}

	var apiErr *leonardo.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		msg := apiErr.Message
		if msg == "" {
			msg = "provider request failed"
		}
		return &domain.Error{Kind: domain.KindProviderAPI, Message: msg, StatusCode: status}
	}

	if errors.Is(err, leonardo.ErrMissingInitImage) || errors.Is(err, domain.ErrInvalidPrompt) {
		return &domain.Error{Kind: domain.KindValidation, Message: err.Error(), StatusCode: http.StatusBadRequest}
	}

	return &domain.Error{
		Kind:       domain.KindInternal,
		Message:    "an unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
	}
}
