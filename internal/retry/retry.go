package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Config holds the configuration for retry logic
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffMultiple: 2.0,
	}
}

// ErrorChecker determines whether an attempt should be retried
type ErrorChecker func(err error, statusCode int) bool

// Func is one attempt. It returns the HTTP status it observed, or 0.
type Func[T any] func(ctx context.Context, attempt int) (result T, statusCode int, err error)

// Options configures retry behavior
type Options struct {
	Config       Config
	ErrorChecker ErrorChecker
	Logger       logrus.FieldLogger
	APIName      string
}

// newBackOff returns the delay schedule for one Execute call. Delays are not
// randomized and the schedule never stops on its own; MaxRetries bounds it.
func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.Multiplier = c.BackoffMultiple
	b.MaxInterval = c.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// IsTransient retries network errors, server errors and rate limiting.
// Context cancellation is never retried.
func IsTransient(err error, statusCode int) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if err != nil && statusCode == 0 {
		return true
	}
	return statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. The last error is returned on exhaustion.
func Execute[T any](ctx context.Context, opts Options, fn Func[T]) (T, error) {
	var zero T
	check := opts.ErrorChecker
	if check == nil {
		check = IsTransient
	}

	schedule := opts.Config.newBackOff()
	var lastErr error
	for attempt := 0; attempt <= opts.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := schedule.NextBackOff()
			if opts.Logger != nil {
				opts.Logger.WithField("action", "retry").
					Debugf("%s retry attempt %d/%d after %v delay", opts.APIName, attempt+1, opts.Config.MaxRetries+1, delay)
			}

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, statusCode, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 && opts.Logger != nil {
				opts.Logger.WithField("action", "retry").
					Debugf("%s request succeeded on attempt %d/%d", opts.APIName, attempt+1, opts.Config.MaxRetries+1)
			}
			return result, nil
		}
		lastErr = err

		if !check(err, statusCode) || attempt == opts.Config.MaxRetries {
			break
		}

		if opts.Logger != nil {
			opts.Logger.WithField("action", "retry").WithError(err).
				Warnf("%s transient error (attempt %d/%d, status %d)", opts.APIName, attempt+1, opts.Config.MaxRetries+1, statusCode)
		}
	}

	return zero, lastErr
}
