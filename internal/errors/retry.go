package errors

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts    int           // Total attempts including the first (minimum 1)
	InitialDelay   time.Duration // Delay before the second attempt
	MaxDelay       time.Duration // Maximum delay between attempts
	Multiplier     float64       // Delay multiplier for exponential backoff
	Jitter         float64       // Random jitter factor (0-1)
	RetryableTypes []ErrorType   // Error types that should be retried
}

// DefaultRetryConfig returns the transmit retry policy: three attempts,
// transport failures only.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		RetryableTypes: []ErrorType{Transmission},
	}
}

// Retrier re-runs failed operations with exponential backoff. It holds no
// per-call state, so one Retrier is shared by all workers.
type Retrier struct {
	config RetryConfig
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Retrier{config: config}
}

// NewDefaultRetrier creates a retrier with default configuration.
func NewDefaultRetrier() *Retrier {
	return NewRetrier(DefaultRetryConfig())
}

// MaxAttempts returns the configured attempt budget.
func (r *Retrier) MaxAttempts() int {
	return r.config.MaxAttempts
}

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryResult holds the result of a retry operation.
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // The last error encountered
	Duration  time.Duration // Total time spent retrying
	Success   bool          // Whether the operation succeeded
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Cancellation of ctx ends the loop with a
// Cancelled error.
func (r *Retrier) Do(ctx context.Context, operation string, target string, fn RetryFunc) *RetryResult {
	start := time.Now()
	result := &RetryResult{}
	defer func() { result.Duration = time.Since(start) }()

	for result.Attempts < r.config.MaxAttempts {
		result.Attempts++

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.LastError = nil
			return result
		}
		result.LastError = err

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(target, operation)
			return result
		}
		if result.Attempts == r.config.MaxAttempts || !r.shouldRetry(err) {
			return result
		}
		if !r.sleep(ctx, result.Attempts) {
			result.LastError = NewCancelledError(target, operation)
			return result
		}
	}
	return result
}

// sleep waits out the backoff after the given attempt. It returns false
// when ctx is cancelled first.
func (r *Retrier) sleep(ctx context.Context, attempt int) bool {
	d := BackoffDuration(attempt, r.config.InitialDelay, r.config.MaxDelay, r.config.Multiplier)
	d = r.jitter(d)
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	errType := GetErrorType(err)
	if errType == Unknown {
		return IsRetryable(err)
	}
	for _, t := range r.config.RetryableTypes {
		if errType == t {
			return true
		}
	}
	return false
}

// jitter spreads d by up to the configured fraction in either direction.
func (r *Retrier) jitter(d time.Duration) time.Duration {
	if r.config.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := r.config.Jitter * float64(d)
	return time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
}

// DoWithResult is Do for functions that also produce a value. The value
// from the last attempt is returned.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation, target string, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var value T
	result := r.Do(ctx, operation, target, func(ctx context.Context) error {
		var err error
		value, err = fn(ctx)
		return err
	})
	return value, result
}

// BackoffDuration returns the delay after the given retry: initial for the
// first, growing by multiplier each time and capped at max. A max of zero
// means no cap.
func BackoffDuration(retry int, initial, max time.Duration, multiplier float64) time.Duration {
	delay := float64(initial)
	if retry > 1 && multiplier > 1 {
		delay *= math.Pow(multiplier, float64(retry-1))
	}
	if max > 0 && delay >= float64(max) {
		return max
	}
	return time.Duration(delay)
}
