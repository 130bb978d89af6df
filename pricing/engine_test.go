package pricing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payer = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

type stubBalances struct {
	balance uint64
	err     error
	calls   int
}

func (s *stubBalances) Balance(ctx context.Context, owner string, fresh bool) (uint64, error) {
	s.calls++
	return s.balance, s.err
}

func testTime() time.Time {
	return time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
}

func TestAdjustZeroBaseIsNoCharge(t *testing.T) {
	engine := NewEngine(Config{AssetDecimals: 6, FreeDailyLimit: 5}, &stubBalances{}, nil)

	for _, p := range []string{"", payer} {
		quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 0, Payer: p, Now: testTime()})
		assert.Equal(t, ReasonNoCharge, quote.Reason)
		assert.Zero(t, quote.PriceAtomic)
	}
}

func TestAdjustAnonymousPayerGetsBasePrice(t *testing.T) {
	balances := &stubBalances{balance: 1 << 40}
	engine := NewEngine(Config{
		AssetDecimals:          6,
		FreeDailyLimit:         5,
		DiscountTokenThreshold: 1,
		DiscountBps:            2500,
	}, balances, nil)

	quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Now: testTime()})
	assert.Equal(t, ReasonBasePrice, quote.Reason)
	assert.Equal(t, uint64(10_000), quote.PriceAtomic)
	assert.Zero(t, balances.calls, "no perks possible without a payer identity")
}

func TestAdjustFreeQuotaUntilLimit(t *testing.T) {
	engine := NewEngine(Config{AssetDecimals: 6, FreeDailyLimit: 3}, &stubBalances{}, nil)
	now := testTime()

	for n := 1; n <= 3; n++ {
		quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Payer: payer, Now: now})
		assert.Equal(t, ReasonFreeQuota, quote.Reason, "call %d", n)
		assert.Zero(t, quote.PriceAtomic)
		assert.True(t, quote.FreeQuotaUsed)
	}

	quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Payer: payer, Now: now})
	assert.Equal(t, ReasonBasePrice, quote.Reason, "call past the limit is priced normally")
	assert.Equal(t, uint64(10_000), quote.PriceAtomic)
	assert.False(t, quote.FreeQuotaUsed)
}

func TestAdjustQuotaResetsOnUTCDateRollover(t *testing.T) {
	engine := NewEngine(Config{AssetDecimals: 6, FreeDailyLimit: 1}, &stubBalances{}, nil)

	yesterday := time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC)
	today := time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC)

	quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 5_000, Payer: payer, Now: yesterday})
	require.Equal(t, ReasonFreeQuota, quote.Reason)

	// Yesterday's record is treated as absent today.
	quote = engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 5_000, Payer: payer, Now: today})
	assert.Equal(t, ReasonFreeQuota, quote.Reason)
}

func TestAdjustFreeQuotaThresholdGate(t *testing.T) {
	balances := &stubBalances{balance: 99}
	engine := NewEngine(Config{
		AssetDecimals:          6,
		FreeDailyLimit:         5,
		FreeCallTokenThreshold: 100,
	}, balances, nil)

	quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Payer: payer, Now: testTime()})
	assert.Equal(t, ReasonBasePrice, quote.Reason, "below threshold: no free quota")

	balances.balance = 100
	quote = engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Payer: payer, Now: testTime()})
	assert.Equal(t, ReasonFreeQuota, quote.Reason)
}

func TestAdjustBalanceFailureFailsClosedOnPerks(t *testing.T) {
	balances := &stubBalances{err: errors.New("rpc down")}
	engine := NewEngine(Config{
		AssetDecimals:          6,
		FreeDailyLimit:         5,
		FreeCallTokenThreshold: 100,
		DiscountTokenThreshold: 100,
		DiscountBps:            2500,
	}, balances, nil)

	quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Payer: payer, Now: testTime()})
	assert.Equal(t, ReasonBasePrice, quote.Reason)
	assert.Equal(t, uint64(10_000), quote.PriceAtomic, "charged full price, not blocked")
	assert.Equal(t, 1, balances.calls, "failed fetch is not repeated for the discount step")
	assert.Zero(t, engine.QuotaUsed(payer, testTime()), "quota not consumed on the failed path")
}

func TestAdjustHolderDiscountMonotonic(t *testing.T) {
	balances := &stubBalances{balance: 999}
	engine := NewEngine(Config{
		AssetDecimals:          6,
		DiscountTokenThreshold: 1_000,
		DiscountBps:            2500,
	}, balances, nil)

	quote := engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Payer: payer, Now: testTime()})
	assert.False(t, quote.DiscountApplied)
	assert.Equal(t, uint64(10_000), quote.PriceAtomic)

	// Crossing the threshold flips the discount with an identical base price.
	balances.balance = 1_000
	quote = engine.Adjust(context.Background(), PriceRequest{BaseAtomic: 10_000, Payer: payer, Now: testTime()})
	assert.True(t, quote.DiscountApplied)
	assert.Equal(t, ReasonHolderDiscount, quote.Reason)
	assert.Equal(t, uint64(7_500), quote.PriceAtomic)
}

func TestAdjustBaseReasonPassesThrough(t *testing.T) {
	engine := NewEngine(Config{AssetDecimals: 6}, &stubBalances{}, nil)

	for _, reason := range []Reason{ReasonLinkOverride, ReasonDefaultPrice} {
		quote := engine.Adjust(context.Background(), PriceRequest{
			BaseAtomic: 2_500,
			BaseReason: reason,
			Payer:      payer,
			Now:        testTime(),
		})
		assert.Equal(t, reason, quote.Reason)
		assert.Equal(t, uint64(2_500), quote.PriceAtomic)
	}
}

func TestApplyDiscountBps(t *testing.T) {
	tests := []struct {
		amount, bps, want uint64
	}{
		{10_000, 2500, 7_500},
		{1, 9999, 0},
		{0, 2500, 0},
		{10_000, 0, 10_000},
		{10_000, 10_000, 0},
		{10_000, 12_000, 0},
		{3, 3333, 2},
		{1 << 62, 5000, 1 << 61},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d@%dbps", tt.amount, tt.bps), func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyDiscountBps(tt.amount, tt.bps))
		})
	}
}

func TestDisplayPrice(t *testing.T) {
	assert.Equal(t, "0.01", DisplayPrice(10_000, 6).String())
	assert.Equal(t, "1.5", DisplayPrice(1_500_000, 6).String())
	assert.Equal(t, "0", DisplayPrice(0, 6).String())
}
