// Package http provides HTTP integrations for the paywall: a gin middleware
// driving the orchestrator, plus the header names the protocol uses on the
// wire.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	solgate "github.com/solgate-labs/solgate"
	"github.com/solgate-labs/solgate/paywall"
	"github.com/solgate-labs/solgate/ratelimit"
)

// Wire headers.
const (
	// HeaderPayment carries the base64 payment proof envelope.
	HeaderPayment = "X-Payment"

	// HeaderPayer carries the caller-declared wallet address.
	HeaderPayer = "X-Payer"

	// HeaderReceipt echoes the accepted proof token, or a reserved marker
	// when no on-chain settlement occurred.
	HeaderReceipt = "X-Payment-Receipt"

	// HeaderRequestID tags every response for log correlation.
	HeaderRequestID = "X-Request-Id"
)

// MiddlewareOptions configures the paywall middleware for one route group.
type MiddlewareOptions struct {
	Limiter       *ratelimit.Limiter
	Logger        *zap.Logger
	PriceAtomic   *uint64
	PriceOverride *uint64
	ResourceBase  string
}

// Option configures the paywall middleware.
type Option func(*MiddlewareOptions)

// WithLimiter enables per-caller rate limiting in front of the paywall.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *MiddlewareOptions) { o.Limiter = l }
}

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *MiddlewareOptions) { o.Logger = log }
}

// WithPriceAtomic sets the route's price in atomic units.
func WithPriceAtomic(price uint64) Option {
	return func(o *MiddlewareOptions) { o.PriceAtomic = &price }
}

// WithPriceOverride sets a per-link override that wins over the route price.
func WithPriceOverride(price uint64) Option {
	return func(o *MiddlewareOptions) { o.PriceOverride = &price }
}

// WithResourceBase sets the external base URL used to build resource
// identifiers, e.g. "https://api.example.com".
func WithResourceBase(base string) Option {
	return func(o *MiddlewareOptions) { o.ResourceBase = base }
}

// Paywall returns a gin middleware that charges for every request passing
// through it. Free and verified requests proceed to the handler with the
// receipt already set on the response; unpaid requests are answered with a
// 402 challenge. Settlement runs after the handler has written its response.
func Paywall(orch *paywall.Orchestrator, opts ...Option) gin.HandlerFunc {
	options := &MiddlewareOptions{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header(HeaderRequestID, requestID)
		log := options.Logger.With(
			zap.String("requestId", requestID),
			zap.String("path", c.Request.URL.Path))

		payer := c.GetHeader(HeaderPayer)
		if options.Limiter != nil && !options.Limiter.Admit(callerKey(c, payer), 1) {
			log.Info("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limit_exceeded",
			})
			return
		}

		result, err := orch.Evaluate(c.Request.Context(), paywall.Request{
			Payer:         payer,
			ResourceURL:   resourceURL(options, c),
			Proof:         c.GetHeader(HeaderPayment),
			PriceAtomic:   options.PriceAtomic,
			PriceOverride: options.PriceOverride,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, solgate.ErrVerificationUnavailable) {
				status = http.StatusServiceUnavailable
			}
			log.Error("paywall evaluation failed", zap.Error(err))
			c.AbortWithStatusJSON(status, gin.H{"error": "paywall_unavailable"})
			return
		}

		if !result.Admitted() {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, result.Challenge)
			return
		}

		c.Header(HeaderReceipt, result.Receipt)
		c.Next()

		if c.IsAborted() {
			return
		}
		// The caller already has the response; settlement must not use a
		// context that dies with the request.
		orch.Settle(context.WithoutCancel(c.Request.Context()), result)
	}
}

// callerKey identifies the caller for rate limiting: wallet when declared,
// client IP otherwise.
func callerKey(c *gin.Context, payer string) string {
	if payer != "" {
		return payer
	}
	return c.ClientIP()
}

func resourceURL(options *MiddlewareOptions, c *gin.Context) string {
	if options.ResourceBase != "" {
		return options.ResourceBase + c.Request.URL.Path
	}
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}
