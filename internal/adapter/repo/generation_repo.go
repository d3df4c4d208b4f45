package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
	"server/internal/retry"
)

// GenerationRepositoryPG implements domain.GenerationRepository. Every
// statement runs under the default retry policy so a transient database
// hiccup does not fail a generation that the provider already accepted.
type GenerationRepositoryPG struct {
	pool   *pgxpool.Pool
	policy retry.Policy
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool, policy: retry.DefaultPolicy()}
}

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	query := `
INSERT INTO generations (id, prompt, negative_prompt, source_url, strength, status, job_id, image_url, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := retry.Do(ctx, r.policy, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, query,
			gen.ID,
			gen.Prompt,
			nullableString(gen.NegativePrompt),
			nullableString(gen.SourceURL),
			gen.Strength,
			gen.Status,
			nullableString(gen.JobID),
			nullableString(gen.ImageURL),
			nullableString(gen.ErrorMessage),
		)
		return struct{}{}, err
	})
	return err
}

// MarkComplete settles a record with the job id and the produced image URL.
func (r *GenerationRepositoryPG) MarkComplete(ctx context.Context, id, jobID, imageURL string) error {
	query := `
UPDATE generations
SET status = $2, job_id = $3, image_url = $4, updated_at = NOW()
WHERE id = $1;
`
	_, err := retry.Do(ctx, r.policy, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, query, id, domain.GenerationComplete, nullableString(jobID), imageURL)
		return struct{}{}, err
	})
	return err
}

// MarkFailed settles a record with the normalized failure message.
func (r *GenerationRepositoryPG) MarkFailed(ctx context.Context, id, jobID, message string) error {
	query := `
UPDATE generations
SET status = $2, job_id = $3, error_message = $4, updated_at = NOW()
WHERE id = $1;
`
	_, err := retry.Do(ctx, r.policy, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, query, id, domain.GenerationFailed, nullableString(jobID), message)
		return struct{}{}, err
	})
	return err
}

const selectColumns = `
SELECT id, prompt, COALESCE(negative_prompt, ''), COALESCE(source_url, ''), strength,
       status, COALESCE(job_id, ''), COALESCE(image_url, ''), COALESCE(error_message, ''),
       created_at, updated_at
FROM generations
`

// GetByID fetches a generation record by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (*domain.Generation, error) {
		row := r.pool.QueryRow(ctx, selectColumns+`WHERE id = $1;`, id)
		gen, err := scanGeneration(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}
		return gen, nil
	})
}

// ListRecent returns the newest records first.
func (r *GenerationRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([]domain.Generation, error) {
		rows, err := r.pool.Query(ctx, selectColumns+`ORDER BY created_at DESC LIMIT $1;`, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []domain.Generation
		for rows.Next() {
			gen, err := scanGeneration(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, *gen)
		}
		return out, rows.Err()
	})
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var gen domain.Generation
	if err := row.Scan(
		&gen.ID,
		&gen.Prompt,
		&gen.NegativePrompt,
		&gen.SourceURL,
		&gen.Strength,
		&gen.Status,
		&gen.JobID,
		&gen.ImageURL,
		&gen.ErrorMessage,
		&gen.CreatedAt,
		&gen.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &gen, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
