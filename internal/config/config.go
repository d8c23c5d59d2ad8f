package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/checkout-ledger/internal/pricing"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Log      LogConfig
	Checkout CheckoutConfig
	Checkin  CheckinConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
type DBConfig struct {
	Host           string `envconfig:"DB_HOST" default:"localhost"`
	Port           int    `envconfig:"DB_PORT" default:"5432"`
	User           string `envconfig:"DB_USER" default:"postgres"`
	Password       string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name           string `envconfig:"DB_NAME" default:"checkout_db"`
	SSLMode        string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns       int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns       int    `envconfig:"DB_MIN_CONNS" default:"5"`
	ConnectRetries int    `envconfig:"DB_CONNECT_RETRIES" default:"5"`
	AutoMigrate    bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// CheckoutConfig holds pricing knobs shared by the cart, summary and order engines.
type CheckoutConfig struct {
	ShippingFee           int64         `envconfig:"SHIPPING_FEE" default:"60"`
	FreeShippingThreshold int64         `envconfig:"FREE_SHIPPING_THRESHOLD" default:"2000"`
	MaxPointsRatio        string        `envconfig:"MAX_POINTS_RATIO" default:"0.3"`
	CODFee                int64         `envconfig:"COD_FEE" default:"30"`
	StagedCouponTTL       time.Duration `envconfig:"STAGED_COUPON_TTL" default:"30m"`
	// StagedCouponStore is "postgres" or "memory". The memory store is per process.
	StagedCouponStore string `envconfig:"STAGED_COUPON_STORE" default:"postgres"`
}

// Policy converts the raw values into the pricing policy used by the services.
func (c CheckoutConfig) Policy() (pricing.Policy, error) {
	ratio, err := decimal.NewFromString(c.MaxPointsRatio)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("parse MAX_POINTS_RATIO %q: %w", c.MaxPointsRatio, err)
	}
	if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return pricing.Policy{}, fmt.Errorf("MAX_POINTS_RATIO must be within [0, 1], got %s", ratio)
	}
	return pricing.Policy{
		ShippingFee:           c.ShippingFee,
		FreeShippingThreshold: c.FreeShippingThreshold,
		MaxPointsRatio:        ratio,
		PaymentFees: map[pricing.PaymentMethod]int64{
			pricing.PaymentCOD: c.CODFee,
		},
	}, nil
}

// CheckinConfig holds check-in streak settings.
type CheckinConfig struct {
	Timezone     string `envconfig:"CHECKIN_TIMEZONE" default:"Asia/Taipei"`
	LookbackDays int    `envconfig:"CHECKIN_LOOKBACK_DAYS" default:"60"`
}

// Location resolves the calendar timezone used to bucket check-ins into days.
func (c CheckinConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load checkin timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	switch cfg.Checkout.StagedCouponStore {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STAGED_COUPON_STORE must be postgres or memory, got %q", cfg.Checkout.StagedCouponStore)
	}
	if cfg.Checkin.LookbackDays < 1 {
		return nil, fmt.Errorf("CHECKIN_LOOKBACK_DAYS must be positive, got %d", cfg.Checkin.LookbackDays)
	}
	return &cfg, nil
}
