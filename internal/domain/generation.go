package domain

import (
	"context"
	"time"
)

// GenerationStatus enumerates persisted generation states.
type GenerationStatus string

const (
	GenerationPending  GenerationStatus = "PENDING"
	GenerationComplete GenerationStatus = "COMPLETE"
	GenerationFailed   GenerationStatus = "FAILED"
)

// Generation is the persisted record of one image generation request. The
// record is bookkeeping around the provider call: the handler inserts it as
// PENDING before submitting and settles it once the job resolves.
type Generation struct {
	ID             string
	Prompt         string
	NegativePrompt string
	SourceURL      string
	Strength       *float64
	Status         GenerationStatus
	JobID          string
	ImageURL       string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GenerationRepository persists generation records.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) error
	MarkComplete(ctx context.Context, id, jobID, imageURL string) error
	MarkFailed(ctx context.Context, id, jobID, message string) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	ListRecent(ctx context.Context, limit int) ([]Generation, error)
}
