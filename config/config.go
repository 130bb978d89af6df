// Package config loads the paywall configuration from environment variables
// and validates it before anything is wired up. A misconfigured paywall must
// refuse to start rather than silently serve for free.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config holds all configuration for the paywall service.
type Config struct {
	Server    ServerConfig
	Chain     ChainConfig
	Payment   PaymentConfig
	Pricing   PricingConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `validate:"required"`
	Port            string        `validate:"required"`
	UpstreamURL     string        `validate:"omitempty,url"`
	ResourceBaseURL string        `validate:"omitempty,url"`
	ReadTimeout     time.Duration `validate:"min=0"`
	WriteTimeout    time.Duration `validate:"min=0"`
	ShutdownTimeout time.Duration `validate:"min=0"`
}

// ChainConfig holds Solana RPC configuration for balance lookups.
type ChainConfig struct {
	RPCEndpoint    string        `validate:"required,url"`
	BalanceTTL     time.Duration `validate:"min=0"`
	MaxAttempts    int           `validate:"min=1"`
	RetryBaseDelay time.Duration `validate:"min=0"`
}

// PaymentConfig holds the merchant-side payment settings.
type PaymentConfig struct {
	Network            string        `validate:"required,oneof=solana solana-devnet solana-testnet"`
	Mint               string        `validate:"required"`
	PayTo              string        `validate:"required"`
	FacilitatorURL     string        `validate:"required,url"`
	FacilitatorTimeout time.Duration `validate:"min=0"`
	FeePayer           string
	Description        string
	MimeType           string
}

// PricingConfig holds the price and perk parameters.
type PricingConfig struct {
	DefaultPriceAtomic     uint64
	AssetDecimals          int32  `validate:"min=0,max=18"`
	DiscountBps            uint64 `validate:"max=10000"`
	DiscountTokenThreshold uint64
	FreeDailyLimit         uint
	FreeCallTokenThreshold uint64
}

// RateLimitConfig holds token bucket parameters.
type RateLimitConfig struct {
	Enabled      bool
	Capacity     float64       `validate:"min=0"`
	RefillAmount float64       `validate:"min=0"`
	Interval     time.Duration `validate:"min=0"`
}

// LoggingConfig holds logger construction settings.
type LoggingConfig struct {
	Level       string `validate:"oneof=debug info warn error"`
	Environment string `validate:"oneof=development production"`
}

// Load reads configuration from environment variables, applying defaults,
// then validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			UpstreamURL:     getEnv("UPSTREAM_URL", ""),
			ResourceBaseURL: getEnv("RESOURCE_BASE_URL", ""),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Chain: ChainConfig{
			RPCEndpoint:    getEnv("SOLANA_RPC_ENDPOINT", "https://api.devnet.solana.com"),
			BalanceTTL:     getDurationEnv("BALANCE_CACHE_TTL", 30*time.Second),
			MaxAttempts:    getIntEnv("BALANCE_MAX_ATTEMPTS", 3),
			RetryBaseDelay: getDurationEnv("BALANCE_RETRY_BASE_DELAY", 500*time.Millisecond),
		},
		Payment: PaymentConfig{
			Network:            getEnv("PAYMENT_NETWORK", "solana-devnet"),
			Mint:               getEnv("PAYMENT_MINT", ""),
			PayTo:              getEnv("PAYMENT_PAY_TO", ""),
			FacilitatorURL:     getEnv("FACILITATOR_URL", ""),
			FacilitatorTimeout: getDurationEnv("FACILITATOR_TIMEOUT", 15*time.Second),
			FeePayer:           getEnv("PAYMENT_FEE_PAYER", ""),
			Description:        getEnv("PAYMENT_DESCRIPTION", ""),
			MimeType:           getEnv("PAYMENT_MIME_TYPE", "application/json"),
		},
		Pricing: PricingConfig{
			DefaultPriceAtomic:     getUint64Env("PRICE_DEFAULT_ATOMIC", 10_000),
			AssetDecimals:          int32(getIntEnv("ASSET_DECIMALS", 6)),
			DiscountBps:            getUint64Env("DISCOUNT_BPS", 0),
			DiscountTokenThreshold: getUint64Env("DISCOUNT_TOKEN_THRESHOLD", 0),
			FreeDailyLimit:         uint(getIntEnv("FREE_DAILY_LIMIT", 0)),
			FreeCallTokenThreshold: getUint64Env("FREE_CALL_TOKEN_THRESHOLD", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getBoolEnv("RATE_LIMIT_ENABLED", true),
			Capacity:     getFloatEnv("RATE_LIMIT_CAPACITY", 60),
			RefillAmount: getFloatEnv("RATE_LIMIT_REFILL_AMOUNT", 60),
			Interval:     getDurationEnv("RATE_LIMIT_INTERVAL", time.Minute),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("LOG_ENVIRONMENT", "development"),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uint64Value, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uint64Value
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
