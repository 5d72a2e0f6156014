package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffExp(t *testing.T) {
	p := RetryPolicy{Mode: BackoffExp, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
}

func TestBackoffExpJitterAdds(t *testing.T) {
	p := RetryPolicy{Mode: BackoffExp, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, JitterFrac: 0.25}
	for range 20 {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestBackoffFixed(t *testing.T) {
	p := RetryPolicy{Mode: BackoffFixed, BaseDelay: 150 * time.Millisecond}
	assert.Equal(t, 150*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 150*time.Millisecond, p.Backoff(5))
}

func TestBackoffNone(t *testing.T) {
	p := RetryPolicy{Mode: BackoffNone, BaseDelay: time.Second}
	assert.Equal(t, time.Duration(0), p.Backoff(3))
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	p := RetryPolicy{Mode: BackoffExp, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Backoff(10))
}

func TestRetryableStatus(t *testing.T) {
	p := DefaultRetryPolicy()
	for _, s := range []int{429, 500, 502, 503, 504} {
		assert.True(t, p.RetryableStatus(s), s)
	}
	for _, s := range []int{200, 301, 404, 410, 418} {
		assert.False(t, p.RetryableStatus(s), s)
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	p := RetryPolicy{Mode: BackoffFixed, BaseDelay: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Sleep(ctx, 0) }()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after cancellation")
	}
}
