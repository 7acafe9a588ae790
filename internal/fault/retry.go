package fault

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the retry behavior for transient failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the standard retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *RetryConfig) ApplyDefaults() {
	def := DefaultRetryConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
}

// Attempt records a single invocation of a retried operation.
type Attempt struct {
	// Number is 1-based across the whole Retry call.
	Number int `json:"number"`

	// Started is when the invocation began.
	Started time.Time `json:"started"`

	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`

	// Err is the invocation outcome; nil on success.
	Err error `json:"-"`
}

// Retry runs fn with exponential backoff for transient failures, up to
// cfg.MaxRetries retries after the first attempt. Every invocation is
// recorded, including the successful one. Structural and budget faults stop
// the loop immediately; so does cancellation of ctx. When the budget is
// exhausted the returned error is a transient fault whose wrap chain
// preserves the last underlying cause.
func Retry(ctx context.Context, op string, cfg RetryConfig, fn func(context.Context) error) ([]Attempt, error) {
	cfg.ApplyDefaults()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.InitialBackoff
	expo.MaxInterval = cfg.MaxBackoff
	expo.Multiplier = cfg.BackoffMultiplier
	// Attempts bound the loop, not wall clock.
	expo.MaxElapsedTime = 0

	var bo backoff.BackOff = backoff.WithMaxRetries(expo, uint64(cfg.MaxRetries))
	bo = backoff.WithContext(bo, ctx)

	attempts := make([]Attempt, 0, cfg.MaxRetries+1)

	err := backoff.Retry(func() error {
		started := time.Now()
		err := fn(ctx)
		attempts = append(attempts, Attempt{
			Number:   len(attempts) + 1,
			Started:  started,
			Duration: time.Since(started),
			Err:      err,
		})

		if err == nil {
			return nil
		}
		// A dead parent context makes further attempts pointless even when
		// the failure itself looks transient.
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if ClassOf(err) != ClassTransient {
			return backoff.Permanent(err)
		}
		return err
	}, bo)

	if err == nil {
		return attempts, nil
	}

	if ClassOf(err) == ClassTransient && ctx.Err() == nil {
		return attempts, &Error{
			Op:     op,
			Class:  ClassTransient,
			Reason: fmt.Sprintf("retry budget exhausted after %d attempts", len(attempts)),
			Err:    err,
		}
	}
	return attempts, err
}
