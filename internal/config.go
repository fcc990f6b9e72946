package internal

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"mypalette.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	JWTSecret    string        `env:"JWT_SECRET,required"`
	CookieName   string        `env:"COOKIE_NAME" envDefault:"sb-access-token"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	FeeAmount   int64  `env:"SUBMISSION_FEE_AMOUNT" envDefault:"1000"`
	FeeCurrency string `env:"SUBMISSION_FEE_CURRENCY" envDefault:"usd"`

	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	PaymentTimeout      time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"8s"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	OpenCallsTTL  time.Duration `env:"OPEN_CALLS_CACHE_TTL" envDefault:"30s"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// ParseConfig loads configuration from environment variables.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.FeeAmount <= 0 {
		return Config{}, fmt.Errorf("SUBMISSION_FEE_AMOUNT must be positive")
	}
	if cfg.StoreTimeout <= 0 {
		return Config{}, fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if cfg.PaymentTimeout <= 0 {
		return Config{}, fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	return cfg, nil
}
