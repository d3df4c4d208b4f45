package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"
)

// maxJitter bounds the random perturbation added before each sleep to keep
// clients from retrying in lockstep.
const maxJitter = 100 * time.Millisecond

// Policy controls how Do re-invokes a failing operation.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// ShouldRetry decides whether a failed attempt is worth repeating. A nil
	// predicate retries everything.
	ShouldRetry func(error) bool
}

// DefaultPolicy mirrors the service-wide defaults for calls against the
// generation provider and the database.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		ShouldRetry:   IsRetryable,
	}
}

// Exhausted reports that every attempt allowed by the policy failed.
type Exhausted struct {
	Attempts int
	Err      error
}

func (e *Exhausted) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Exhausted) Unwrap() error { return e.Err }

// HTTPStatuser is implemented by errors that carry an HTTP response status.
// The retry predicate and the error normalization layer probe for it via
// errors.As instead of sniffing untyped fields.
type HTTPStatuser interface {
	HTTPStatus() int
}

// Do runs op until it succeeds, the policy's attempt budget runs out, or the
// predicate rejects the failure. The delay between attempts grows by
// BackoffFactor up to MaxDelay; fresh jitter is added before each sleep and
// never folded back into the stored delay.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	delay := policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		if err := sleep(ctx, delay+jitter()); err != nil {
			return zero, err
		}
		if policy.BackoffFactor > 0 {
			delay = time.Duration(float64(delay) * policy.BackoffFactor)
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return zero, &Exhausted{Attempts: policy.MaxAttempts, Err: lastErr}
}

// IsRetryable is the default predicate: rate limits, server-side failures
// and transient transport errors are retried, everything else propagates.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) {
		return true
	}
	var statuser HTTPStatuser
	if errors.As(err, &statuser) && statuser.HTTPStatus() >= 500 {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsRateLimit reports whether the error looks like a provider rate limit,
// either by status code or by message.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var statuser HTTPStatuser
	if errors.As(err, &statuser) && statuser.HTTPStatus() == 429 {
		return true
	}
	return strings.Contains(err.Error(), "rate limit")
}

func jitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter)))
}

// sleep is a hook so tests can observe and skip real delays.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
