// Package config reads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"os"
	"strings"
	"time"
)

// Config server settings
type Config struct {
	HTTPAddr string
	LogLevel string

	StorageDriver string
	DatabaseURL   string

	CacheDriver   string
	RedisAddr     string
	RedisPassword string

	IdempotencyDriver string
	BoltPath          string
	IdempotencyTTL    time.Duration

	CommissionCacheTTL time.Duration
	ConfirmationWindow time.Duration
	MinimumBalanceUSD  decimal.Decimal
	SweepInterval      time.Duration

	// ExchangeRefreshInterval how often the exchange graph is reloaded from shared storage
	ExchangeRefreshInterval time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// Load reads .env when present, then the environment. Malformed durations
// and decimals are reported together.
func Load() (*Config, error) {
	// a missing .env is fine, the environment alone may configure the server
	_ = godotenv.Load()
	return fromEnv(os.LookupEnv)
}

func fromEnv(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}
	c := &Config{
		HTTPAddr:           p.str("HTTP_ADDR", ":8080"),
		LogLevel:           p.oneOf("LOG_LEVEL", "info", "debug", "info", "warn", "error"),
		StorageDriver:      p.oneOf("STORAGE_DRIVER", "memory", "memory", "postgres"),
		DatabaseURL:        p.str("DATABASE_URL", ""),
		CacheDriver:        p.oneOf("CACHE_DRIVER", "memory", "memory", "redis"),
		RedisAddr:          p.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      p.str("REDIS_PASSWORD", ""),
		IdempotencyDriver:  p.oneOf("IDEMPOTENCY_DRIVER", "memory", "memory", "bolt", "redis"),
		BoltPath:           p.str("BOLT_PATH", "idempotency.db"),
		IdempotencyTTL:     p.duration("IDEMPOTENCY_TTL", time.Hour),
		CommissionCacheTTL: p.duration("COMMISSION_CACHE_TTL", 5*time.Minute),
		ConfirmationWindow: p.duration("CONFIRMATION_WINDOW", 10*time.Minute),
		MinimumBalanceUSD:  p.decimal("MINIMUM_BALANCE_USD", decimal.NewFromInt(50)),
		SweepInterval:      p.duration("SWEEP_INTERVAL", time.Minute),

		ExchangeRefreshInterval: p.duration("EXCHANGE_REFRESH_INTERVAL", 30*time.Second),

		KafkaBrokers:       p.list("KAFKA_BROKERS"),
		KafkaTopic:         p.str("KAFKA_TOPIC", "ledger.transactions"),
		JWTSecret:          p.str("JWT_SECRET", ""),
		JWTIssuer:          p.str("JWT_ISSUER", ""),
		JWTAudience:        p.str("JWT_AUDIENCE", ""),
	}
	if c.StorageDriver == "postgres" && c.DatabaseURL == "" {
		p.errs = append(p.errs, errors.New("DATABASE_URL is required for the postgres storage driver"))
	}
	if c.JWTSecret == "" {
		p.errs = append(p.errs, errors.New("JWT_SECRET is required"))
	}
	if c.MinimumBalanceUSD.IsNegative() {
		p.errs = append(p.errs, errors.New("MINIMUM_BALANCE_USD must not be negative"))
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// parser collects every malformed value instead of stopping at the first
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) str(key, fallback string) string {
	if v, ok := p.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func (p *parser) oneOf(key, fallback string, allowed ...string) string {
	v := strings.ToLower(p.str(key, fallback))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	p.errs = append(p.errs, fmt.Errorf("%s: %q is not one of %s", key, v, strings.Join(allowed, ", ")))
	return fallback
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a positive duration", key, v))
		return fallback
	}
	return d
}

func (p *parser) decimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, item := range strings.Split(p.str(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
