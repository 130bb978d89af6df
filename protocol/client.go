package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	solgate "github.com/solgate-labs/solgate"
	"github.com/solgate-labs/solgate/metrics"
	"github.com/solgate-labs/solgate/pricing"
)

// ProtocolClient is the capability set the paywall needs from a payment
// protocol implementation: build a requirement, verify a proof, settle an
// accepted payment.
type ProtocolClient interface {
	BuildRequirement(quote pricing.Quote, resourceURL string) (solgate.PaymentRequirements, error)
	Verify(ctx context.Context, env *solgate.PaymentEnvelope, req solgate.PaymentRequirements) (*solgate.VerifyResult, error)
	Settle(ctx context.Context, env *solgate.PaymentEnvelope, req solgate.PaymentRequirements, verdict *solgate.VerifyResult) (*solgate.SettleResult, error)
}

// FallbackClient runs the remote facilitator first and falls back to local
// cryptographic verification when the facilitator explicitly rejects a proof
// or times out. Other facilitator transport failures are surfaced as
// verification-unavailable rather than masked as payment fraud.
type FallbackClient struct {
	cfg      RequirementConfig
	remote   *Facilitator
	local    *LocalVerifier
	recorder metrics.Recorder
	log      *zap.Logger
}

// FallbackOption configures a FallbackClient.
type FallbackOption func(*FallbackClient)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) FallbackOption {
	return func(c *FallbackClient) { c.recorder = r }
}

// NewFallbackClient creates the production protocol client.
func NewFallbackClient(cfg RequirementConfig, remote *Facilitator, local *LocalVerifier, log *zap.Logger, opts ...FallbackOption) *FallbackClient {
	if log == nil {
		log = zap.NewNop()
	}
	c := &FallbackClient{
		cfg:      cfg,
		remote:   remote,
		local:    local,
		recorder: metrics.Noop{},
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildRequirement implements ProtocolClient.
func (c *FallbackClient) BuildRequirement(quote pricing.Quote, resourceURL string) (solgate.PaymentRequirements, error) {
	return BuildRequirement(c.cfg, quote, resourceURL)
}

// Verify implements ProtocolClient. The local verifier only ever runs after
// the remote facilitator has explicitly rejected the proof or timed out,
// never after it accepted.
func (c *FallbackClient) Verify(ctx context.Context, env *solgate.PaymentEnvelope, req solgate.PaymentRequirements) (*solgate.VerifyResult, error) {
	start := time.Now()
	remoteResult, err := c.remote.Verify(ctx, env, req)
	c.observe(metrics.OperationRemoteVerify, start, err == nil)
	switch {
	case err == nil && remoteResult.IsValid:
		c.count(metrics.EventVerification, metrics.OutcomeSuccess)
		return remoteResult, nil

	case err == nil:
		c.log.Info("facilitator rejected proof, trying local verification",
			zap.String("reason", remoteResult.InvalidReason))

	case isTimeout(err):
		c.log.Warn("facilitator timed out, trying local verification", zap.Error(err))

	default:
		c.count(metrics.EventVerification, metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %v", solgate.ErrVerificationUnavailable, err)
	}

	localResult, err := c.local.Verify(env, req)
	if err != nil {
		c.count(metrics.EventVerification, metrics.OutcomeFailure)
		return nil, err
	}

	c.count(metrics.EventLocalFallback, metrics.OutcomeSuccess)
	c.count(metrics.EventVerification, metrics.OutcomeSuccess)
	c.log.Info("proof accepted by local verification", zap.String("payer", localResult.Payer))
	return localResult, nil
}

// Settle implements ProtocolClient. When the accepting verdict came from the
// local fallback the transaction is already final on-chain, so settlement is
// skipped and logged as a notable event, not an error.
func (c *FallbackClient) Settle(ctx context.Context, env *solgate.PaymentEnvelope, req solgate.PaymentRequirements, verdict *solgate.VerifyResult) (*solgate.SettleResult, error) {
	if verdict != nil && verdict.ViaLocalFallback {
		c.log.Info("settlement skipped for locally verified payment",
			zap.String("payer", verdict.Payer),
			zap.String("network", req.Network))
		c.count(metrics.EventSettlement, metrics.OutcomeSuccess)
		return &solgate.SettleResult{Success: true, Network: req.Network}, nil
	}

	start := time.Now()
	result, err := c.remote.Settle(ctx, env, req)
	c.observe(metrics.OperationRemoteSettle, start, err == nil)
	if err != nil || !result.Success {
		c.count(metrics.EventSettlement, metrics.OutcomeFailure)
		return result, err
	}
	c.count(metrics.EventSettlement, metrics.OutcomeSuccess)
	return result, nil
}

func (c *FallbackClient) count(event, outcome string) {
	c.recorder.IncCounter(event, map[string]string{"outcome": outcome})
}

func (c *FallbackClient) observe(operation string, start time.Time, ok bool) {
	outcome := metrics.OutcomeFailure
	if ok {
		outcome = metrics.OutcomeSuccess
	}
	c.recorder.ObserveLatency(operation, time.Since(start), map[string]string{"outcome": outcome})
}

// isTimeout reports whether the facilitator call failed on a deadline rather
// than an outright transport error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
