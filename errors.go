package solgate

import (
	"errors"
	"fmt"
)

// VerificationKind identifies one distinct way a payment proof can fail
// verification. Every rejection maps to exactly one kind so callers can
// branch without string matching.
type VerificationKind string

const (
	KindMalformedProof        VerificationKind = "malformed_proof"
	KindSchemeMismatch        VerificationKind = "scheme_mismatch"
	KindTransactionDecode     VerificationKind = "transaction_decode"
	KindNoTransferInstruction VerificationKind = "no_transfer_instruction"
	KindAmountMismatch        VerificationKind = "amount_mismatch"
	KindAccountMismatch       VerificationKind = "account_mismatch"
	KindMissingSignature      VerificationKind = "missing_signature"
	KindInvalidSignature      VerificationKind = "invalid_signature"
)

// VerificationError reports why a submitted payment proof was rejected.
// These are caller input errors: the request is answered with a fresh 402
// challenge, never treated as a server fault.
type VerificationError struct {
	Kind    VerificationKind
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// NewVerificationError creates a VerificationError of the given kind.
func NewVerificationError(kind VerificationKind, format string, args ...interface{}) *VerificationError {
	return &VerificationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapVerificationError creates a VerificationError carrying an underlying cause.
func WrapVerificationError(kind VerificationKind, err error, message string) *VerificationError {
	return &VerificationError{Kind: kind, Message: message, Err: err}
}

// AsVerificationError extracts the verification kind from an error chain.
func AsVerificationError(err error) (*VerificationError, bool) {
	var verr *VerificationError
	ok := errors.As(err, &verr)
	return verr, ok
}

// ErrVerificationUnavailable indicates the remote facilitator could not be
// reached and local fallback did not apply. The payment was neither accepted
// nor proven invalid; callers should re-issue the challenge.
var ErrVerificationUnavailable = errors.New("payment verification unavailable")

// ConfigurationError reports a missing or unsupported setting. Configuration
// errors are fatal at startup or first use and must never silently degrade
// to free pricing.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// NewConfigurationError creates a ConfigurationError for the given field.
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
