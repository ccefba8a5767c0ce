package governance

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryPolicyRetriesTransientStatus(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 3})
	policy.sleep = noSleep

	calls := 0
	status, err := policy.Do(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return http.StatusServiceUnavailable, errors.New("unavailable")
		}
		return http.StatusOK, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnPermanentStatus(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 3})
	policy.sleep = noSleep

	calls := 0
	wantErr := errors.New("bad request")
	status, err := policy.Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return http.StatusBadRequest, wantErr
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorIs(t, err, wantErr)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestRetryPolicyExhaustion(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 2})
	policy.sleep = noSleep

	calls := 0
	_, err := policy.Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("dial tcp: connection refused")
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 5})
	ctx, cancel := context.WithCancel(context.Background())
	policy.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := policy.Do(ctx, func(context.Context) (int, error) {
		return http.StatusBadGateway, errors.New("bad gateway")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, 10*time.Millisecond, policy.CalculateBackoff(0))
	assert.Equal(t, 20*time.Millisecond, policy.CalculateBackoff(1))
	assert.Equal(t, 50*time.Millisecond, policy.CalculateBackoff(10))
}

func TestIsRetryableError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":      {nil, false},
		"refused":  {errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), true},
		"deadline": {context.DeadlineExceeded, true},
		"canceled": {context.Canceled, false},
		"other":    {errors.New("invalid character"), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := IsRetryableError(tc.err); got != tc.want {
				t.Fatalf("IsRetryableError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{MaxFailures: 2, Cooldown: time.Second, HalfOpenProbes: 1})
	b.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("boom") }
	ok := func(context.Context) error { return nil }

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), ok)
	require.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Second)
	require.NoError(t, b.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	now = now.Add(2 * time.Second)
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("still down") })

	assert.Equal(t, StateOpen, b.State())
}

func TestDisabledBreakerAlwaysRuns(t *testing.T) {
	var b *Breaker
	calls := 0
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error {
			calls++
			return errors.New("boom")
		})
	}
	assert.Equal(t, 3, calls)
}

func TestBreakerSetReturnsSameBreaker(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig())
	a := set.Get("http://engine:9000")
	assert.Same(t, a, set.Get("http://engine:9000"))
	assert.NotSame(t, a, set.Get("http://other:9000"))
	assert.Len(t, set.States(), 2)
}

func TestLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewLimiter(1, 2)
	l.now = func() time.Time { return now }
	l.last = now

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	now = now.Add(time.Second)
	assert.True(t, l.Allow())

	var unlimited *Limiter = NewLimiter(0, 0)
	assert.True(t, unlimited.Allow())
}
