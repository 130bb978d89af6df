// Package metrics defines the recorder interface the pipeline reports into.
// Recording is fire-and-forget: implementations return nothing and must not
// block the request path.
package metrics

import "time"

// Event and operation names used across the pipeline.
const (
	EventBalanceFetch     = "balance_fetch"
	EventRateLimitReject  = "rate_limit_reject"
	EventVerification     = "verification"
	EventSettlement       = "settlement"
	EventChallengeIssued  = "challenge_issued"
	EventLocalFallback    = "local_fallback"
	EventQuoteComputed    = "quote_computed"
	OperationBalanceRPC   = "balance_rpc"
	OperationRemoteVerify = "remote_verify"
	OperationRemoteSettle = "remote_settle"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder receives pipeline events and latencies.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}
