// Package solgate defines the wire-level types and error taxonomy of the
// x402 payment-gated request pipeline. Component implementations live in the
// subpackages (ratelimit, balance, pricing, protocol, paywall, http).
package solgate

// X402Version is the protocol version carried in challenges and proofs.
const X402Version = 1

// SchemeExact is the only payment scheme this service accepts: an exact-amount
// SPL token transfer signed by the payer.
const SchemeExact = "exact"

// Reserved receipt markers meaning no on-chain settlement occurred.
const (
	ReceiptFreeQuota = "FREE-QUOTA"
	ReceiptNoCharge  = "NO-CHARGE"
)

// PaymentRequirements describes one acceptable way to pay for a resource.
// It is produced fresh per request from a price quote and never persisted.
// The quote annotations (priceUsd, reason, discount flags) ride along for
// client UX and are not part of verification.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource"`
	MimeType          string                 `json:"mimeType"`
	Description       string                 `json:"description,omitempty"`
	PriceUsd          string                 `json:"priceUsd,omitempty"`
	Reason            string                 `json:"reason,omitempty"`
	DiscountApplied   bool                   `json:"discountApplied,omitempty"`
	FreeQuotaUsed     bool                   `json:"freeQuotaUsed,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentChallenge is the machine-readable challenge inside a 402 response.
// Accepts currently always has length 1.
type PaymentChallenge struct {
	X402Version    int                   `json:"x402Version"`
	FacilitatorURL string                `json:"facilitatorUrl"`
	Accepts        []PaymentRequirements `json:"accepts"`
}

// PaymentRequiredResponse is the exact body returned with HTTP status 402.
// InvalidReason is set when a submitted proof was rejected, so the caller's
// retry loop can tell a fresh challenge from a failed attempt.
type PaymentRequiredResponse struct {
	Error         string           `json:"error"`
	InvalidReason string           `json:"invalidReason,omitempty"`
	Challenge     PaymentChallenge `json:"challenge"`
}

// PaymentEnvelope is the decoded form of the caller-supplied payment proof
// (the base64 X-Payment header). It is untrusted input until verified.
type PaymentEnvelope struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// ExactPayload carries the signed, serialized transaction for the exact scheme.
type ExactPayload struct {
	Transaction string `json:"transaction"`
}

// VerifyResult is the outcome of verifying a payment proof.
type VerifyResult struct {
	IsValid          bool   `json:"isValid"`
	Payer            string `json:"payer,omitempty"`
	InvalidReason    string `json:"invalidReason,omitempty"`
	ViaLocalFallback bool   `json:"-"`
}

// SettleResult is the outcome of settling an accepted payment.
type SettleResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}
