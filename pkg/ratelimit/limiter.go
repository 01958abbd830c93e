package ratelimit

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// Limiter is the shared admission gate for every upstream call. All pipeline
// stages draw from the same token bucket, so aggregate throughput never
// exceeds the configured ceiling no matter which stage issues the call.
type Limiter struct {
	bucket   *rate.Limiter
	Requests *xsync.Counter
}

// New creates a Limiter replenishing rps tokens per second with the given
// burst allowance. A burst of 1 degenerates to a fixed interval between calls.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(rps), burst),
		Requests: xsync.NewCounter(),
	}
}

// Acquire blocks the caller until a token is available. It never rejects:
// context cancellation is the only error path.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate admission cancelled: %w", err)
	}
	l.Requests.Inc()
	return nil
}

// Allow reports whether a token is immediately available, consuming it if so.
func (l *Limiter) Allow() bool {
	ok := l.bucket.Allow()
	if ok {
		l.Requests.Inc()
	}
	return ok
}

// Limit returns the configured replenishment rate in tokens per second.
func (l *Limiter) Limit() float64 {
	return float64(l.bucket.Limit())
}
