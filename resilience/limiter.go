// Package resilience provides the rate limiting and retry machinery shared
// by all fetch engines. Limiter state is scoped to one source within one
// run; nothing in here is process-global.
package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-host token bucket with a randomized post-acquisition
// delay. All workers fetching the same host within one source share one
// bucket, so token accounting stays accurate under concurrency.
type Limiter struct {
	rps      float64
	burst    int
	minDelay time.Duration
	jitter   time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLimiter(rps float64, burst int, minDelay, jitter time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rps:      rps,
		burst:    burst,
		minDelay: minDelay,
		jitter:   jitter,
		buckets:  map[string]*rate.Limiter{},
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.buckets[host] = b
	}
	return b
}

// Wait blocks until a token for host is available, then sleeps
// max(min_delay, uniform(0, jitter)) to avoid lockstep bursts. It returns
// early with the context's error on cancellation.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if l.rps > 0 {
		if err := l.bucket(host).Wait(ctx); err != nil {
			return err
		}
	}
	delay := l.minDelay
	if l.jitter > 0 {
		if j := time.Duration(rand.Float64() * float64(l.jitter)); j > delay {
			delay = j
		}
	}
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
