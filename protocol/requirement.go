// Package protocol implements the payment protocol surface: building payment
// requirements, verifying submitted proofs (remote facilitator with a local
// cryptographic fallback), and settling accepted payments.
package protocol

import (
	"strconv"

	solana "github.com/gagliardetto/solana-go"

	solgate "github.com/solgate-labs/solgate"
	"github.com/solgate-labs/solgate/pricing"
)

// Networks accepted for the exact scheme.
var supportedNetworks = map[string]bool{
	"solana":         true,
	"solana-devnet":  true,
	"solana-testnet": true,
}

// RequirementConfig holds the merchant-side payment settings shared by the
// requirement builder and both verifier implementations.
type RequirementConfig struct {
	// Network is the chain identifier advertised in challenges.
	Network string
	// Asset is the SPL token mint payments must use.
	Asset string
	// PayTo is the merchant wallet that must receive the transfer.
	PayTo string
	// FacilitatorURL is advertised in challenges for client convenience.
	FacilitatorURL string
	// FeePayer, when set, is advertised in the requirement extra so clients
	// can build a transaction the facilitator co-signs.
	FeePayer string
	// MimeType of the protected resource.
	MimeType string
	// Description of the protected resource.
	Description string
}

// Validate checks the configuration, returning a *solgate.ConfigurationError
// for the first unusable field. Configuration problems are fatal; they must
// not degrade to free pricing.
func (c RequirementConfig) Validate() error {
	if !supportedNetworks[c.Network] {
		return solgate.NewConfigurationError("network", "unsupported network %q", c.Network)
	}
	if _, err := solana.PublicKeyFromBase58(c.Asset); err != nil {
		return solgate.NewConfigurationError("asset", "invalid mint address %q: %v", c.Asset, err)
	}
	if _, err := solana.PublicKeyFromBase58(c.PayTo); err != nil {
		return solgate.NewConfigurationError("payTo", "invalid merchant address %q: %v", c.PayTo, err)
	}
	if c.FeePayer != "" {
		if _, err := solana.PublicKeyFromBase58(c.FeePayer); err != nil {
			return solgate.NewConfigurationError("feePayer", "invalid fee payer address %q: %v", c.FeePayer, err)
		}
	}
	return nil
}

// BuildRequirement produces the payment requirement for one priced request.
// Pure transformation of the quote and config; nothing is persisted.
func BuildRequirement(cfg RequirementConfig, quote pricing.Quote, resourceURL string) (solgate.PaymentRequirements, error) {
	if err := cfg.Validate(); err != nil {
		return solgate.PaymentRequirements{}, err
	}

	req := solgate.PaymentRequirements{
		Scheme:            solgate.SchemeExact,
		Network:           cfg.Network,
		Asset:             cfg.Asset,
		PayTo:             cfg.PayTo,
		MaxAmountRequired: strconv.FormatUint(quote.PriceAtomic, 10),
		Resource:          resourceURL,
		MimeType:          cfg.MimeType,
		Description:       cfg.Description,
		PriceUsd:          quote.PriceDisplay.String(),
		Reason:            string(quote.Reason),
		DiscountApplied:   quote.DiscountApplied,
		FreeQuotaUsed:     quote.FreeQuotaUsed,
	}
	if cfg.FeePayer != "" {
		req.Extra = map[string]interface{}{"feePayer": cfg.FeePayer}
	}
	return req, nil
}
