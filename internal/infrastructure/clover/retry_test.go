package clover

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(0))
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	assert.Equal(t, DefaultRetryPolicy(), p)

	custom := RetryPolicy{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond, Multiplier: 3}.normalized()
	assert.Equal(t, 2, custom.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, custom.InitialDelay)
	assert.Equal(t, 3.0, custom.Multiplier)
}

func TestRetryPolicy_NewBackOff_YieldsExactWaits(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, Multiplier: 2}
	b := p.NewBackOff(context.Background())

	var waits []time.Duration
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		waits = append(waits, next)
	}

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, waits)
}

func TestRetryPolicy_NewBackOff_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := DefaultRetryPolicy().NewBackOff(ctx)
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetryPolicy_SingleAttempt(t *testing.T) {
	b := RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 2}.NewBackOff(context.Background())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
