package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryConfig defines retry behavior for engine requests.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first (0 = no retries).
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor applied per attempt.
	BackoffMultiplier float64
	// Jitter adds up to 25% random delay on top of the computed backoff.
	Jitter bool
	// RetryableStatusCodes lists HTTP status codes that trigger another attempt.
	RetryableStatusCodes map[int]bool
}

// DefaultRetryConfig returns the defaults used when retries are enabled
// without further tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableStatusCodes: map[int]bool{
			http.StatusRequestTimeout:     true,
			http.StatusTooManyRequests:    true,
			http.StatusBadGateway:         true,
			http.StatusServiceUnavailable: true,
			http.StatusGatewayTimeout:     true,
		},
	}
}

// RetryPolicy decides whether and when an engine request is attempted again.
type RetryPolicy struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy, filling unset fields with defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.RetryableStatusCodes == nil {
		config.RetryableStatusCodes = defaults.RetryableStatusCodes
	}
	return &RetryPolicy{config: config, sleep: sleepContext}
}

// Config returns a copy of the policy configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// ShouldRetry reports whether attempt (zero based) may be followed by another.
// A positive status code is judged against the retryable set; otherwise the
// transport error decides.
func (rp *RetryPolicy) ShouldRetry(statusCode int, err error, attempt int) bool {
	if attempt >= rp.config.MaxRetries {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if statusCode > 0 {
		return rp.config.RetryableStatusCodes[statusCode]
	}
	return IsRetryableError(err)
}

// CalculateBackoff returns the delay before the retry following attempt.
func (rp *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.InitialBackoff) * math.Pow(rp.config.BackoffMultiplier, float64(attempt)))
	if backoff > rp.config.MaxBackoff || backoff <= 0 {
		backoff = rp.config.MaxBackoff
	}
	if rp.config.Jitter && backoff >= 4 {
		// #nosec G404 - jitter does not need a cryptographic source
		backoff += time.Duration(rand.Int63n(int64(backoff / 4)))
	}
	return backoff
}

// Do runs fn until it reports a 2xx status without error, the policy gives up,
// or ctx is done. fn returns the HTTP status it observed (0 when the request
// never produced a response).
func (rp *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) (int, error)) (int, error) {
	var (
		status  int
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return status, err
		}

		status, lastErr = fn(ctx)
		if lastErr == nil && status >= 200 && status < 300 {
			return status, nil
		}

		if lastErr == nil {
			lastErr = fmt.Errorf("unexpected status %d", status)
		}
		if !rp.ShouldRetry(status, lastErr, attempt) {
			if attempt == 0 {
				return status, lastErr
			}
			return status, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
		}

		if err := rp.sleep(ctx, rp.CalculateBackoff(attempt)); err != nil {
			return status, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetryableError reports whether a transport error looks transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := err.Error()
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"temporary failure",
		"EOF",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
