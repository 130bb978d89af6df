// Package ratelimit implements per-key token bucket admission control.
// Callers are throttled here before any payment logic runs.
package ratelimit

import (
	"sync"
	"time"

	"github.com/solgate-labs/solgate/metrics"
)

// Config describes a token bucket: Capacity tokens maximum, RefillAmount
// tokens added per whole Interval elapsed.
type Config struct {
	Capacity     float64
	RefillAmount float64
	Interval     time.Duration
}

// Limiter admits or rejects calls per key. Buckets are created lazily at
// full capacity on first use and never expire; keys must have bounded
// cardinality (payer address or client IP).
type Limiter struct {
	cfg      Config
	now      func() time.Time
	recorder metrics.Recorder

	mu      sync.RWMutex
	buckets map[string]*bucket
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(l *Limiter) { l.recorder = r }
}

// New creates a Limiter for the given bucket configuration.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:      cfg,
		now:      time.Now,
		recorder: metrics.Noop{},
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit attempts to deduct cost tokens from the key's bucket and reports
// whether the deduction succeeded. Purely synchronous: no blocking, no
// suspension.
func (l *Limiter) Admit(key string, cost float64) bool {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(b.lastRefill); elapsed >= l.cfg.Interval {
		intervals := elapsed / l.cfg.Interval
		b.tokens += float64(intervals) * l.cfg.RefillAmount
		if b.tokens > l.cfg.Capacity {
			b.tokens = l.cfg.Capacity
		}
		b.lastRefill = b.lastRefill.Add(intervals * l.cfg.Interval)
	}

	if b.tokens < cost {
		l.recorder.IncCounter(metrics.EventRateLimitReject, nil)
		return false
	}
	b.tokens -= cost
	return true
}

// bucket returns the key's bucket, creating it at full capacity if absent.
// Lookup holds the map lock only; token accounting is per-bucket so
// unrelated keys never serialize on each other.
func (l *Limiter) bucket(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &bucket{tokens: l.cfg.Capacity, lastRefill: l.now()}
	l.buckets[key] = b
	return b
}
