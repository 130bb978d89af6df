// Command solgate runs the paywall as a reverse proxy: requests that clear
// the paywall are forwarded to the configured upstream, everything else is
// answered with a 402 challenge.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	solana "github.com/gagliardetto/solana-go"

	"github.com/solgate-labs/solgate/balance"
	"github.com/solgate-labs/solgate/config"
	solgatehttp "github.com/solgate-labs/solgate/http"
	"github.com/solgate-labs/solgate/metrics"
	"github.com/solgate-labs/solgate/paywall"
	"github.com/solgate-labs/solgate/pricing"
	"github.com/solgate-labs/solgate/protocol"
	"github.com/solgate-labs/solgate/ratelimit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "solgate:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(registry)

	mint, err := solana.PublicKeyFromBase58(cfg.Payment.Mint)
	if err != nil {
		return fmt.Errorf("invalid PAYMENT_MINT: %w", err)
	}

	oracle := balance.New(
		balance.NewRPCClient(cfg.Chain.RPCEndpoint),
		mint,
		balance.WithTTL(cfg.Chain.BalanceTTL),
		balance.WithMaxAttempts(cfg.Chain.MaxAttempts),
		balance.WithBaseDelay(cfg.Chain.RetryBaseDelay),
		balance.WithRecorder(recorder),
		balance.WithLogger(log.Named("balance")),
	)

	engine := pricing.NewEngine(pricing.Config{
		AssetDecimals:          cfg.Pricing.AssetDecimals,
		FreeDailyLimit:         cfg.Pricing.FreeDailyLimit,
		FreeCallTokenThreshold: cfg.Pricing.FreeCallTokenThreshold,
		DiscountTokenThreshold: cfg.Pricing.DiscountTokenThreshold,
		DiscountBps:            cfg.Pricing.DiscountBps,
	}, oracle, log.Named("pricing"))

	requirementCfg := protocol.RequirementConfig{
		Network:        cfg.Payment.Network,
		Asset:          cfg.Payment.Mint,
		PayTo:          cfg.Payment.PayTo,
		FacilitatorURL: cfg.Payment.FacilitatorURL,
		FeePayer:       cfg.Payment.FeePayer,
		MimeType:       cfg.Payment.MimeType,
		Description:    cfg.Payment.Description,
	}
	if err := requirementCfg.Validate(); err != nil {
		return err
	}

	localVerifier, err := protocol.NewLocalVerifier(requirementCfg, log.Named("verifier"))
	if err != nil {
		return err
	}
	facilitator := protocol.NewFacilitator(protocol.FacilitatorConfig{
		URL:     cfg.Payment.FacilitatorURL,
		Timeout: cfg.Payment.FacilitatorTimeout,
	}, log.Named("facilitator"))
	client := protocol.NewFallbackClient(requirementCfg, facilitator, localVerifier,
		log.Named("protocol"), protocol.WithRecorder(recorder))

	orchestrator := paywall.New(paywall.Config{
		DefaultPriceAtomic: cfg.Pricing.DefaultPriceAtomic,
		FacilitatorURL:     cfg.Payment.FacilitatorURL,
	}, engine, client, log.Named("paywall"), paywall.WithRecorder(recorder))

	middlewareOpts := []solgatehttp.Option{
		solgatehttp.WithLogger(log.Named("http")),
		solgatehttp.WithResourceBase(cfg.Server.ResourceBaseURL),
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			Capacity:     cfg.RateLimit.Capacity,
			RefillAmount: cfg.RateLimit.RefillAmount,
			Interval:     cfg.RateLimit.Interval,
		}, ratelimit.WithRecorder(recorder))
		middlewareOpts = append(middlewareOpts, solgatehttp.WithLimiter(limiter))
	}

	if cfg.Logging.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	proxy, err := upstreamProxy(cfg.Server.UpstreamURL)
	if err != nil {
		return err
	}
	router.NoRoute(solgatehttp.Paywall(orchestrator, middlewareOpts...), gin.WrapH(proxy))

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("solgate listening",
			zap.String("addr", srv.Addr),
			zap.String("network", cfg.Payment.Network),
			zap.String("upstream", cfg.Server.UpstreamURL))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// upstreamProxy forwards admitted requests to the protected service. Without
// an upstream the proxy answers 404, which keeps single-binary demos usable.
func upstreamProxy(upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.NotFoundHandler(), nil
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	return proxy, nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.DisableStacktrace = true
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapCfg.Level = level

	return zapCfg.Build()
}
