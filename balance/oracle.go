// Package balance fetches and caches wallet token balances from chain RPC,
// with bounded retries and exponential backoff.
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solgate-labs/solgate/metrics"
)

// Defaults for retry and caching behavior.
const (
	DefaultTTL         = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
)

// FetchError reports that the chain RPC could not be reached after
// exhausting all retry attempts.
type FetchError struct {
	Owner    string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("balance fetch for %s failed after %d attempts: %v", e.Owner, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type cacheEntry struct {
	balance   uint64
	expiresAt time.Time
}

// Oracle reads a wallet's balance of the configured mint, serving cached
// values while they are fresh. Entries refresh lazily on the next access
// after expiry, never proactively.
type Oracle struct {
	chain       ChainClient
	mint        solana.PublicKey
	ttl         time.Duration
	maxAttempts int
	baseDelay   time.Duration
	recorder    metrics.Recorder
	log         *zap.Logger
	now         func() time.Time
	sleep       func(time.Duration)

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *Oracle) { o.ttl = ttl }
}

// WithMaxAttempts overrides the RPC attempt limit.
func WithMaxAttempts(n int) Option {
	return func(o *Oracle) { o.maxAttempts = n }
}

// WithBaseDelay overrides the backoff base delay.
func WithBaseDelay(d time.Duration) Option {
	return func(o *Oracle) { o.baseDelay = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Oracle) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Oracle) { o.log = log }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// WithSleep overrides the backoff sleep function. Used in tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *Oracle) { o.sleep = sleep }
}

// New creates an Oracle reading balances of mint for arbitrary owners.
func New(chain ChainClient, mint solana.PublicKey, opts ...Option) *Oracle {
	o := &Oracle{
		chain:       chain,
		mint:        mint,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		recorder:    metrics.Noop{},
		log:         zap.NewNop(),
		now:         time.Now,
		sleep:       time.Sleep,
		cache:       make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Balance returns the owner's atomic balance of the configured mint. The
// cache is consulted unless fresh is set. On a miss the chain RPC is tried
// up to maxAttempts times with exponential backoff between attempts; the
// last error propagates as a *FetchError.
func (o *Oracle) Balance(ctx context.Context, owner string, fresh bool) (uint64, error) {
	if !fresh {
		if bal, ok := o.cached(owner); ok {
			return bal, nil
		}
	}

	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, &FetchError{Owner: owner, Attempts: 0, Err: fmt.Errorf("invalid owner address: %w", err)}
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, o.mint)
	if err != nil {
		return 0, &FetchError{Owner: owner, Attempts: 0, Err: fmt.Errorf("derive token account: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		start := o.now()
		bal, err := o.chain.TokenAccountBalance(ctx, ata)
		o.record(o.now().Sub(start), err == nil)

		if err == nil {
			o.store(owner, bal)
			return bal, nil
		}
		lastErr = err
		o.log.Warn("balance rpc attempt failed",
			zap.String("owner", owner),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		// Exponential backoff between attempts, none after the last.
		if attempt < o.maxAttempts {
			o.sleep(o.baseDelay << (attempt - 1))
		}
	}

	return 0, &FetchError{Owner: owner, Attempts: o.maxAttempts, Err: lastErr}
}

func (o *Oracle) cached(owner string) (uint64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.cache[owner]
	if !ok || !o.now().Before(entry.expiresAt) {
		return 0, false
	}
	return entry.balance, true
}

func (o *Oracle) store(owner string, bal uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[owner] = cacheEntry{balance: bal, expiresAt: o.now().Add(o.ttl)}
}

// record reports one RPC attempt. Recorder misbehavior must never fail the
// balance fetch, so panics are swallowed here.
func (o *Oracle) record(d time.Duration, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Warn("metrics recorder panicked", zap.Any("panic", r))
		}
	}()
	outcome := metrics.OutcomeFailure
	if ok {
		outcome = metrics.OutcomeSuccess
	}
	labels := map[string]string{"outcome": outcome}
	o.recorder.ObserveLatency(metrics.OperationBalanceRPC, d, labels)
	o.recorder.IncCounter(metrics.EventBalanceFetch, labels)
}
