package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fisaks/weatherstation/internal/logging"
)

var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy is a bounded exponential backoff.
type Policy struct {
	MaxAttempts int           // <= 0 means 1
	Initial     time.Duration // delay after the first failure
	Max         time.Duration // ceiling for the delay
	Multiplier  float64       // <= 1 keeps the delay constant
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 10, Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		if p.Multiplier > 1 {
			d = time.Duration(float64(d) * p.Multiplier)
		}
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Do runs fn until it succeeds, the attempts run out or ctx is done.
// Every failure is logged at error level under op.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		logging.Error(op+" failed", "attempt", attempt, "of", attempts, "error", lastErr)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, lastErr)
}
