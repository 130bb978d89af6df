package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitExhaustsAndRefills(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := New(
		Config{Capacity: 2, RefillAmount: 2, Interval: 60 * time.Second},
		WithClock(func() time.Time { return now }),
	)

	assert.True(t, limiter.Admit("payer-a", 1))
	assert.True(t, limiter.Admit("payer-a", 1))
	assert.False(t, limiter.Admit("payer-a", 1), "third call within the interval must be rejected")

	// One full interval later the bucket refills.
	now = now.Add(60 * time.Second)
	assert.True(t, limiter.Admit("payer-a", 1))
}

func TestAdmitCapsAtCapacity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := New(
		Config{Capacity: 2, RefillAmount: 2, Interval: time.Second},
		WithClock(func() time.Time { return now }),
	)

	// Many idle intervals must not accumulate beyond capacity.
	now = now.Add(10 * time.Second)
	assert.True(t, limiter.Admit("k", 1))
	assert.True(t, limiter.Admit("k", 1))
	assert.False(t, limiter.Admit("k", 1))
}

func TestAdmitPartialIntervalDoesNotRefill(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := New(
		Config{Capacity: 1, RefillAmount: 1, Interval: time.Minute},
		WithClock(func() time.Time { return now }),
	)

	require.True(t, limiter.Admit("k", 1))
	now = now.Add(59 * time.Second)
	assert.False(t, limiter.Admit("k", 1), "partial interval must not add tokens")
	now = now.Add(time.Second)
	assert.True(t, limiter.Admit("k", 1))
}

func TestAdmitKeysAreIndependent(t *testing.T) {
	limiter := New(Config{Capacity: 1, RefillAmount: 1, Interval: time.Hour})

	assert.True(t, limiter.Admit("a", 1))
	assert.False(t, limiter.Admit("a", 1))
	assert.True(t, limiter.Admit("b", 1), "key b has its own bucket")
}

func TestAdmitConcurrentCallersNeverOverspend(t *testing.T) {
	limiter := New(Config{Capacity: 50, RefillAmount: 1, Interval: time.Hour})

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit("shared", 1) {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	assert.Equal(t, 50, count)
}
