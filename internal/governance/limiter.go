package governance

import (
	"sync"
	"time"
)

// Limiter is a token bucket admitting up to Rate events per second with
// bursts of Burst.
type Limiter struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	now      func() time.Time
}

// NewLimiter creates a full bucket. A non-positive rate yields a limiter that
// admits everything.
func NewLimiter(rate, burst int) *Limiter {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	l := &Limiter{rate: float64(rate), capacity: float64(burst), tokens: float64(burst), now: time.Now}
	l.last = l.now()
	return l
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
