// Package paywall ties rate limiting, pricing, and payment verification into
// a per-request state machine. The orchestrator itself keeps no cross-request
// state; all memory lives in the pricing and balance caches it composes.
package paywall

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	solgate "github.com/solgate-labs/solgate"
	"github.com/solgate-labs/solgate/metrics"
	"github.com/solgate-labs/solgate/pricing"
	"github.com/solgate-labs/solgate/protocol"
)

// State is the position of one request in the paywall lifecycle.
type State string

const (
	StateUnpriced         State = "unpriced"
	StatePriced           State = "priced"
	StateNoChargeAdmitted State = "no_charge_admitted"
	StateChallengeIssued  State = "challenge_issued"
	StateVerified         State = "verified"
	StateAdmitted         State = "admitted"
	StateRejected         State = "rejected"
	StateSettled          State = "settled"
)

// ErrorPaymentRequired is the error code carried by 402 response bodies.
const ErrorPaymentRequired = "payment_required"

// Config holds the orchestrator-level settings.
type Config struct {
	// DefaultPriceAtomic is charged when a route declares no price of its own.
	DefaultPriceAtomic uint64

	// FacilitatorURL is advertised in challenges.
	FacilitatorURL string
}

// Request is the payment-relevant slice of one inbound HTTP request.
type Request struct {
	// Payer is the caller-declared wallet address, if any. When absent it is
	// recovered from the submitted proof.
	Payer string

	// ResourceURL identifies the protected resource.
	ResourceURL string

	// Proof is the raw payment header, empty when the caller has not paid.
	Proof string

	// PriceAtomic is the route's configured price, nil for the default.
	PriceAtomic *uint64

	// PriceOverride is a per-link override that wins over the route price.
	PriceOverride *uint64
}

// Result is the orchestrator's verdict for one request.
type Result struct {
	State       State
	Quote       pricing.Quote
	Requirement solgate.PaymentRequirements

	// Receipt is set when the request is admitted: the accepted proof token,
	// or one of the reserved markers for free requests.
	Receipt string

	// Challenge is set when the caller must (re)submit payment.
	Challenge *solgate.PaymentRequiredResponse

	envelope *solgate.PaymentEnvelope
	verdict  *solgate.VerifyResult
}

// Admitted reports whether the protected resource may be served.
func (r *Result) Admitted() bool {
	return r.State == StateNoChargeAdmitted || r.State == StateVerified
}

// Orchestrator evaluates requests against the paywall.
type Orchestrator struct {
	cfg      Config
	engine   *pricing.Engine
	client   protocol.ProtocolClient
	recorder metrics.Recorder
	log      *zap.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(cfg Config, engine *pricing.Engine, client protocol.ProtocolClient, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		engine:   engine,
		client:   client,
		recorder: metrics.Noop{},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Evaluate runs the state machine up to the admission decision. Settlement is
// deferred to Settle, which the caller invokes after the protected response
// has been produced. A non-nil error means the paywall itself is broken
// (configuration or unavailable verification), not that the payment was bad.
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	result := &Result{State: StateUnpriced}

	baseAtomic, baseReason := o.basePrice(req)

	// Decode the proof before pricing so the payer identity embedded in the
	// transaction can drive quota and discount decisions.
	var decodeErr error
	payer := req.Payer
	if req.Proof != "" {
		env, err := protocol.DecodeEnvelope(req.Proof)
		if err != nil {
			decodeErr = err
		} else {
			result.envelope = env
			if payer == "" {
				if p, err := protocol.PayerFromEnvelope(env); err == nil {
					payer = p
				}
			}
		}
	}

	quote := o.engine.Adjust(ctx, pricing.PriceRequest{
		BaseAtomic: baseAtomic,
		BaseReason: baseReason,
		Payer:      payer,
		Now:        o.now(),
	})
	result.Quote = quote
	result.State = StatePriced
	o.recorder.IncCounter(metrics.EventQuoteComputed, map[string]string{"reason": string(quote.Reason)})

	requirement, err := o.client.BuildRequirement(quote, req.ResourceURL)
	if err != nil {
		// Configuration problems are fatal. Degrading to free pricing here
		// would silently give the resource away.
		return nil, err
	}
	result.Requirement = requirement

	if quote.PriceAtomic == 0 {
		result.State = StateNoChargeAdmitted
		result.Receipt = solgate.ReceiptNoCharge
		if quote.Reason == pricing.ReasonFreeQuota {
			result.Receipt = solgate.ReceiptFreeQuota
		}
		return result, nil
	}

	if req.Proof == "" {
		result.State = StateChallengeIssued
		result.Challenge = o.challenge(requirement, "")
		o.recorder.IncCounter(metrics.EventChallengeIssued, nil)
		return result, nil
	}

	if decodeErr != nil {
		return o.reject(result, requirement, decodeErr), nil
	}

	verdict, err := o.client.Verify(ctx, result.envelope, requirement)
	if err != nil {
		if errors.Is(err, solgate.ErrVerificationUnavailable) {
			return nil, err
		}
		return o.reject(result, requirement, err), nil
	}
	if !verdict.IsValid {
		result.State = StateRejected
		result.Challenge = o.challenge(requirement, verdict.InvalidReason)
		return result, nil
	}

	result.State = StateVerified
	result.verdict = verdict
	result.Receipt = req.Proof
	o.log.Debug("payment verified",
		zap.String("payer", verdict.Payer),
		zap.String("resource", req.ResourceURL),
		zap.Bool("localFallback", verdict.ViaLocalFallback))
	return result, nil
}

// Settle finalizes an admitted payment after the protected response has been
// produced. Best effort: failures are logged and never unwind the response
// the caller already received.
func (o *Orchestrator) Settle(ctx context.Context, result *Result) {
	if result == nil || result.State != StateVerified {
		return
	}

	settled, err := o.client.Settle(ctx, result.envelope, result.Requirement, result.verdict)
	if err != nil {
		o.log.Error("settlement failed", zap.Error(err),
			zap.String("resource", result.Requirement.Resource))
		return
	}
	if !settled.Success {
		o.log.Error("settlement rejected",
			zap.String("reason", settled.ErrorReason),
			zap.String("resource", result.Requirement.Resource))
		return
	}

	result.State = StateSettled
	o.log.Info("payment settled",
		zap.String("transaction", settled.Transaction),
		zap.String("network", settled.Network))
}

func (o *Orchestrator) basePrice(req Request) (uint64, pricing.Reason) {
	switch {
	case req.PriceOverride != nil:
		return *req.PriceOverride, pricing.ReasonLinkOverride
	case req.PriceAtomic != nil:
		return *req.PriceAtomic, pricing.ReasonBasePrice
	default:
		return o.cfg.DefaultPriceAtomic, pricing.ReasonDefaultPrice
	}
}

func (o *Orchestrator) reject(result *Result, requirement solgate.PaymentRequirements, cause error) *Result {
	reason := "payment_invalid"
	if verr, ok := solgate.AsVerificationError(cause); ok {
		reason = string(verr.Kind)
	}
	o.log.Info("payment rejected", zap.String("reason", reason), zap.Error(cause))
	result.State = StateRejected
	result.Challenge = o.challenge(requirement, reason)
	return result
}

func (o *Orchestrator) challenge(requirement solgate.PaymentRequirements, invalidReason string) *solgate.PaymentRequiredResponse {
	return &solgate.PaymentRequiredResponse{
		Error:         ErrorPaymentRequired,
		InvalidReason: invalidReason,
		Challenge: solgate.PaymentChallenge{
			X402Version:    solgate.X402Version,
			FacilitatorURL: o.cfg.FacilitatorURL,
			Accepts:        []solgate.PaymentRequirements{requirement},
		},
	}
}
