// Package pricing decides what a given payer owes for a request: full price,
// a holder discount, or nothing (daily free quota). All monetary math is
// integer arithmetic on atomic units.
package pricing

import (
	"context"
	"math/big"
	"math/bits"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reason explains how a quote's price was determined.
type Reason string

const (
	ReasonNoCharge       Reason = "no-charge"
	ReasonFreeQuota      Reason = "free-quota"
	ReasonHolderDiscount Reason = "holder-discount"
	ReasonBasePrice      Reason = "base-price"
	ReasonLinkOverride   Reason = "link-override"
	ReasonDefaultPrice   Reason = "default-price"
)

// Quote is the immutable pricing decision for one request. PriceAtomic == 0
// is the canonical "no payment required" signal.
type Quote struct {
	PriceAtomic     uint64
	PriceDisplay    decimal.Decimal
	Reason          Reason
	DiscountApplied bool
	FreeQuotaUsed   bool
}

// BalanceSource reads a payer's token balance in atomic units.
type BalanceSource interface {
	Balance(ctx context.Context, owner string, fresh bool) (uint64, error)
}

// Config holds the perk thresholds. A zero FreeDailyLimit disables the free
// quota; a zero DiscountBps or DiscountTokenThreshold disables the discount.
type Config struct {
	// AssetDecimals converts atomic units to the display price.
	AssetDecimals int32
	// FreeDailyLimit is the number of free calls per payer per UTC day.
	FreeDailyLimit uint
	// FreeCallTokenThreshold gates the free quota on a minimum holding.
	// Zero means every payer is eligible.
	FreeCallTokenThreshold uint64
	// DiscountTokenThreshold is the minimum holding for the holder discount.
	DiscountTokenThreshold uint64
	// DiscountBps is the discount in basis points (2500 = 25% off).
	DiscountBps uint64
}

// PriceRequest is the input to a pricing decision. BaseReason records where
// the base price came from (explicit route price, provisioning override, or
// the configured default); the zero value means base-price.
type PriceRequest struct {
	BaseAtomic uint64
	BaseReason Reason
	Payer      string
	Now        time.Time
}

// Engine owns quota bookkeeping and consults the balance source for
// token-holding perks.
type Engine struct {
	cfg      Config
	balances BalanceSource
	quota    *quotaLedger
	log      *zap.Logger
}

// NewEngine creates a pricing engine. balances may be nil only when both
// perks are disabled or unconditional.
func NewEngine(cfg Config, balances BalanceSource, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		balances: balances,
		quota:    newQuotaLedger(),
		log:      log,
	}
}

// Adjust computes the price quote for one request. Balance fetch failures
// fail closed on the perks and open on chargeability: the payer is charged
// the unadjusted price rather than blocked.
func (e *Engine) Adjust(ctx context.Context, req PriceRequest) Quote {
	baseReason := req.BaseReason
	if baseReason == "" {
		baseReason = ReasonBasePrice
	}

	if req.BaseAtomic == 0 {
		return e.quote(0, ReasonNoCharge, false, false)
	}
	if req.Payer == "" {
		return e.quote(req.BaseAtomic, baseReason, false, false)
	}

	// One balance read serves both perks; a fetch error disables both and is
	// not retried within the request.
	var (
		payerBalance  uint64
		balanceKnown  bool
		balanceFailed bool
	)
	fetchBalance := func() (uint64, bool) {
		if balanceKnown {
			return payerBalance, true
		}
		if balanceFailed {
			return 0, false
		}
		bal, err := e.balances.Balance(ctx, req.Payer, false)
		if err != nil {
			balanceFailed = true
			e.log.Warn("balance unavailable, holder perks disabled for this request",
				zap.String("payer", req.Payer),
				zap.Error(err),
			)
			return 0, false
		}
		payerBalance = bal
		balanceKnown = true
		return bal, true
	}

	if e.cfg.FreeDailyLimit > 0 {
		eligible := e.cfg.FreeCallTokenThreshold == 0
		if !eligible {
			if bal, ok := fetchBalance(); ok {
				eligible = bal >= e.cfg.FreeCallTokenThreshold
			}
		}
		if eligible && e.quota.TryConsume(req.Payer, DateKey(req.Now), e.cfg.FreeDailyLimit) {
			return e.quote(0, ReasonFreeQuota, false, true)
		}
	}

	if e.cfg.DiscountBps > 0 && e.cfg.DiscountTokenThreshold > 0 {
		if bal, ok := fetchBalance(); ok && bal >= e.cfg.DiscountTokenThreshold {
			discounted := ApplyDiscountBps(req.BaseAtomic, e.cfg.DiscountBps)
			return e.quote(discounted, ReasonHolderDiscount, true, false)
		}
	}

	return e.quote(req.BaseAtomic, baseReason, false, false)
}

// QuotaUsed reports the payer's consumed free calls for the day containing now.
func (e *Engine) QuotaUsed(payer string, now time.Time) uint {
	return e.quota.Used(payer, DateKey(now))
}

func (e *Engine) quote(atomic uint64, reason Reason, discounted, freeQuota bool) Quote {
	return Quote{
		PriceAtomic:     atomic,
		PriceDisplay:    DisplayPrice(atomic, e.cfg.AssetDecimals),
		Reason:          reason,
		DiscountApplied: discounted,
		FreeQuotaUsed:   freeQuota,
	}
}

// ApplyDiscountBps reduces amount by bps basis points, truncating toward
// zero. The intermediate product is computed in 128 bits so large atomic
// amounts cannot overflow.
func ApplyDiscountBps(amount, bps uint64) uint64 {
	if bps >= 10_000 {
		return 0
	}
	hi, lo := bits.Mul64(amount, 10_000-bps)
	q, _ := bits.Div64(hi, lo, 10_000)
	return q
}

// DisplayPrice converts an atomic amount to its decimal display form.
func DisplayPrice(atomic uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(atomic), -decimals)
}
