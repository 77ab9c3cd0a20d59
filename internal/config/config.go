package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken  string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath    string `envconfig:"DB_PATH" default:"./data/astro.db"`
	DefaultTZ string `envconfig:"DEFAULT_TZ" default:"Europe/Moscow"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"` // healthz
	AdminID   int64  `envconfig:"ADMIN_USER_ID" default:"0"`

	// Embedded so envconfig reads their keys without a prefix.
	DispatchConfig
	AstroConfig
	ReferralConfig
	PaymentConfig
}

// DispatchConfig tunes the daily scheduler and delivery retries.
type DispatchConfig struct {
	TickInterval     time.Duration `envconfig:"TICK_INTERVAL" default:"30s"`
	Workers          int           `envconfig:"WORKERS" default:"8"`
	ClaimLease       time.Duration `envconfig:"CLAIM_LEASE" default:"10m"`
	DeliveryTimeout  time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"10s"`
	EphemerisTimeout time.Duration `envconfig:"EPHEMERIS_TIMEOUT" default:"5s"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBackoff     time.Duration `envconfig:"RETRY_BACKOFF" default:"2s"`
}

// AstroConfig holds the product parameters of aspect detection and composition.
type AstroConfig struct {
	OrbDegrees    float64  `envconfig:"ORB_DEGREES" default:"6"`
	TrackedBodies []string `envconfig:"TRACKED_BODIES" default:"Sun,Moon,Mercury,Venus,Mars,Jupiter,Saturn"`
	ExtraAspects  int      `envconfig:"EXTRA_ASPECTS" default:"3"`
}

// ReferralConfig controls referral rewards. A zero threshold disables the reward.
type ReferralConfig struct {
	RewardThreshold   int `envconfig:"REFERRAL_REWARD_THRESHOLD" default:"0"`
	RewardDays        int `envconfig:"REFERRAL_REWARD_DAYS" default:"30"`
	LifetimeThreshold int `envconfig:"REFERRAL_LIFETIME_THRESHOLD" default:"0"`
}

// PaymentConfig describes the subscription invoice.
type PaymentConfig struct {
	ProviderToken string `envconfig:"PAYMENT_PROVIDER_TOKEN"`
	Currency      string `envconfig:"PAY_CURRENCY" default:"RUB"`
	PriceMinor    int    `envconfig:"PAY_PRICE_MINOR" default:"29900"`
	DurationDays  int    `envconfig:"SUB_DURATION_DAYS" default:"30"`
}

// Load reads an optional .env file and then environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the scheduler cannot work with.
func (c Config) Validate() error {
	d := c.DispatchConfig
	switch {
	case d.TickInterval <= 0 || d.TickInterval > time.Minute:
		return fmt.Errorf("TICK_INTERVAL must be in (0, 1m], got %s", d.TickInterval)
	case d.Workers < 1:
		return fmt.Errorf("WORKERS must be >= 1, got %d", d.Workers)
	case d.RetryMaxAttempts < 1:
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1, got %d", d.RetryMaxAttempts)
	case d.ClaimLease <= d.DeliveryTimeout:
		return errors.New("CLAIM_LEASE must exceed DELIVERY_TIMEOUT")
	}
	a := c.AstroConfig
	switch {
	case a.OrbDegrees <= 0 || a.OrbDegrees > 30:
		return fmt.Errorf("ORB_DEGREES must be in (0, 30], got %g", a.OrbDegrees)
	case len(a.TrackedBodies) == 0:
		return errors.New("TRACKED_BODIES must not be empty")
	case a.ExtraAspects < 0:
		return fmt.Errorf("EXTRA_ASPECTS must be >= 0, got %d", a.ExtraAspects)
	}
	if c.RewardThreshold < 0 || c.RewardDays < 0 || c.LifetimeThreshold < 0 {
		return errors.New("referral settings must be non-negative")
	}
	if c.DurationDays < 1 {
		return fmt.Errorf("SUB_DURATION_DAYS must be >= 1, got %d", c.DurationDays)
	}
	return nil
}
