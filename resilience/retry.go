package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	BackoffExp   = "exp"
	BackoffFixed = "fixed"
	BackoffNone  = "none"
)

// RetryPolicy decides whether and how long to back off between fetch
// attempts. The attempt loop itself lives in the engines so that every
// attempt can be recorded in the response trace.
type RetryPolicy struct {
	MaxRetries    int
	Mode          string // exp | fixed | none
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterFrac    float64 // additive, uniform(0, frac*delay)
	RetryOnStatus []int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		Mode:          BackoffExp,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterFrac:    0.25,
		RetryOnStatus: []int{429, 500, 502, 503, 504},
	}
}

// RetryableStatus reports whether an HTTP status belongs to the retryable
// set. 4xx codes outside the set are terminal by design.
func (p RetryPolicy) RetryableStatus(status int) bool {
	for _, s := range p.RetryOnStatus {
		if s == status {
			return true
		}
	}
	return false
}

// Backoff returns the delay before retry attempt n (0-based: n=0 is the
// sleep after the first failed attempt).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	var d time.Duration
	switch p.Mode {
	case BackoffNone:
		return 0
	case BackoffFixed:
		d = p.BaseDelay
	default:
		d = time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.JitterFrac > 0 {
		d += time.Duration(rand.Float64() * p.JitterFrac * float64(d))
	}
	return d
}

// Sleep backs off before retry attempt n, honoring cancellation.
func (p RetryPolicy) Sleep(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
