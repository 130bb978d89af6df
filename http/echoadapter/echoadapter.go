// Package echoadapter exposes the paywall as an echo middleware for services
// that already run on echo rather than gin.
package echoadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	solgate "github.com/solgate-labs/solgate"
	solgatehttp "github.com/solgate-labs/solgate/http"
	"github.com/solgate-labs/solgate/paywall"
	"github.com/solgate-labs/solgate/ratelimit"
)

// Options configures the echo paywall middleware.
type Options struct {
	Limiter       *ratelimit.Limiter
	Logger        *zap.Logger
	PriceAtomic   *uint64
	PriceOverride *uint64
	ResourceBase  string
}

// Paywall returns an echo middleware with the same semantics as the gin
// variant: 429 on rate limit, 402 challenge when unpaid, receipt header and
// post-response settlement when admitted.
func Paywall(orch *paywall.Orchestrator, options Options) echo.MiddlewareFunc {
	log := options.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := uuid.NewString()
			c.Response().Header().Set(solgatehttp.HeaderRequestID, requestID)

			payer := c.Request().Header.Get(solgatehttp.HeaderPayer)
			key := payer
			if key == "" {
				key = c.RealIP()
			}
			if options.Limiter != nil && !options.Limiter.Admit(key, 1) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "rate_limit_exceeded",
				})
			}

			result, err := orch.Evaluate(c.Request().Context(), paywall.Request{
				Payer:         payer,
				ResourceURL:   resourceURL(options, c),
				Proof:         c.Request().Header.Get(solgatehttp.HeaderPayment),
				PriceAtomic:   options.PriceAtomic,
				PriceOverride: options.PriceOverride,
			})
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, solgate.ErrVerificationUnavailable) {
					status = http.StatusServiceUnavailable
				}
				log.Error("paywall evaluation failed",
					zap.String("requestId", requestID), zap.Error(err))
				return c.JSON(status, map[string]string{"error": "paywall_unavailable"})
			}

			if !result.Admitted() {
				return c.JSON(http.StatusPaymentRequired, result.Challenge)
			}

			c.Response().Header().Set(solgatehttp.HeaderReceipt, result.Receipt)
			if err := next(c); err != nil {
				return err
			}

			orch.Settle(context.WithoutCancel(c.Request().Context()), result)
			return nil
		}
	}
}

func resourceURL(options Options, c echo.Context) string {
	if options.ResourceBase != "" {
		return options.ResourceBase + c.Request().URL.Path
	}
	return c.Scheme() + "://" + c.Request().Host + c.Request().URL.Path
}
