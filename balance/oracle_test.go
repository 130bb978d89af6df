package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMint  = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testOwner = solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
)

// stubChain fails a fixed number of times before succeeding.
type stubChain struct {
	failures int
	balance  uint64
	calls    int
}

func (s *stubChain) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	s.calls++
	if s.calls <= s.failures {
		return 0, errors.New("rpc unavailable")
	}
	return s.balance, nil
}

func TestBalanceRetriesThenSucceeds(t *testing.T) {
	chain := &stubChain{failures: 2, balance: 1_000_000}

	var sleeps []time.Duration
	oracle := New(chain, testMint,
		WithBaseDelay(100*time.Millisecond),
		WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)

	bal, err := oracle.Balance(context.Background(), testOwner.String(), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), bal)
	assert.Equal(t, 3, chain.calls, "succeeds on the third attempt")

	// Exactly two backoff sleeps, doubling from the base delay.
	require.Len(t, sleeps, 2)
	assert.Equal(t, 100*time.Millisecond, sleeps[0])
	assert.Equal(t, 200*time.Millisecond, sleeps[1])
}

func TestBalanceExhaustsAttempts(t *testing.T) {
	chain := &stubChain{failures: 10}

	var sleeps int
	oracle := New(chain, testMint,
		WithSleep(func(time.Duration) { sleeps++ }),
	)

	_, err := oracle.Balance(context.Background(), testOwner.String(), false)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, 3, chain.calls)
	assert.Equal(t, 2, sleeps, "no backoff after the final attempt")
}

func TestBalanceServesCachedValue(t *testing.T) {
	chain := &stubChain{balance: 42}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oracle := New(chain, testMint,
		WithTTL(30*time.Second),
		WithClock(func() time.Time { return now }),
	)

	owner := testOwner.String()
	_, err := oracle.Balance(context.Background(), owner, false)
	require.NoError(t, err)

	_, err = oracle.Balance(context.Background(), owner, false)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.calls, "second read within TTL hits the cache")

	// At expiry the entry must not be served again.
	now = now.Add(30 * time.Second)
	_, err = oracle.Balance(context.Background(), owner, false)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.calls)
}

func TestBalanceFreshBypassesCache(t *testing.T) {
	chain := &stubChain{balance: 7}
	oracle := New(chain, testMint)

	owner := testOwner.String()
	_, err := oracle.Balance(context.Background(), owner, false)
	require.NoError(t, err)

	_, err = oracle.Balance(context.Background(), owner, true)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.calls)
}

func TestBalanceInvalidOwner(t *testing.T) {
	oracle := New(&stubChain{}, testMint)

	_, err := oracle.Balance(context.Background(), "not-a-wallet", false)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 0, fetchErr.Attempts)
}

// panicRecorder asserts that recorder faults never surface to callers.
type panicRecorder struct{}

func (panicRecorder) IncCounter(string, map[string]string)                    { panic("recorder down") }
func (panicRecorder) ObserveLatency(string, time.Duration, map[string]string) { panic("recorder down") }

func TestBalanceRecorderPanicIsSwallowed(t *testing.T) {
	chain := &stubChain{balance: 5}
	oracle := New(chain, testMint, WithRecorder(panicRecorder{}))

	bal, err := oracle.Balance(context.Background(), testOwner.String(), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), bal)
}
