package leonardo

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Job statuses the provider is known to report. Anything else is treated as
// non-terminal: the provider adds status values over time and an unknown
// string keeps the loop polling rather than failing the job.
const (
	statusComplete = "COMPLETE"
	statusFailed   = "FAILED"
)

// pollForResult queries the job until it completes, the provider reports
// failure, or the attempt budget runs out. Polls are strictly sequential;
// each individual poll call is retried by the transport seam, the budget
// here only counts successful status reads.
func (c *Client) pollForResult(ctx context.Context, jobID string) (*GenerateResult, error) {
	url := c.baseURL + "/generations/" + jobID
	for attempt := 1; attempt <= c.polling.MaxAttempts; attempt++ {
		var resp statusResponse
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
			return nil, err
		}
		gen := resp.GenerationsByPK
		switch gen.Status {
		case statusComplete:
			if len(gen.GeneratedImages) == 0 {
				return nil, fmt.Errorf("leonardo: generation %s completed without images", jobID)
			}
			c.logger.Debug().
				Str("job_id", jobID).
				Int("polls", attempt).
				Str("url", gen.GeneratedImages[0].URL).
				Msg("leonardo: generation complete")
			return &GenerateResult{ImageURL: gen.GeneratedImages[0].URL, JobID: jobID}, nil
		case statusFailed:
			return nil, &GenerationError{JobID: jobID, Message: gen.Error}
		}
		c.logger.Debug().
			Str("job_id", jobID).
			Str("status", gen.Status).
			Int("attempt", attempt).
			Int("max_attempts", c.polling.MaxAttempts).
			Msg("leonardo: generation pending")
		if attempt == c.polling.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, c.polling.Delay); err != nil {
			return nil, err
		}
	}
	return nil, &TimeoutError{JobID: jobID, Attempts: c.polling.MaxAttempts}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
