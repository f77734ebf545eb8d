package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Gateways      GatewaysConfig      `mapstructure:"gateways"`
	Fraud         FraudConfig         `mapstructure:"fraud"`
	Promotion     PromotionConfig     `mapstructure:"promotion"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

type GatewaysConfig struct {
	GCash  GatewayConfig `mapstructure:"gcash"`
	PayPal GatewayConfig `mapstructure:"paypal"`
	Stripe GatewayConfig `mapstructure:"stripe"`
}

type GatewayConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Expiry        time.Duration `mapstructure:"expiry"`
}

type FraudConfig struct {
	BlockThreshold       int           `mapstructure:"block_threshold"`
	FailedAttemptWindow  time.Duration `mapstructure:"failed_attempt_window"`
	MaxFailedAttempts    int           `mapstructure:"max_failed_attempts"`
	MaxPaymentsPerHour   int           `mapstructure:"max_payments_per_hour"`
	MaxPaymentsPerDay    int           `mapstructure:"max_payments_per_day"`
	MaxPaymentsPerWeek   int           `mapstructure:"max_payments_per_week"`
	MaxTravelSpeedKmh    float64       `mapstructure:"max_travel_speed_kmh"`
	TrackingTTL          time.Duration `mapstructure:"tracking_ttl"`
	MinimumPaymentAmount string        `mapstructure:"minimum_payment_amount"`
}

type PromotionConfig struct {
	// YearLevels is the ordered ladder students advance through; the last
	// entry graduates instead of advancing.
	YearLevels []string `mapstructure:"year_levels"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds a Config entirely from environment variables for
// container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_SERVER_PORT", 8080),
			BaseURL:           getEnv("HTTP_SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("HTTP_SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			WriteTimeout:      15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Source:          getEnv("DATABASE_SOURCE", ""),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Gateways: GatewaysConfig{
			GCash: GatewayConfig{
				BaseURL:       getEnv("GCASH_BASE_URL", ""),
				APIKey:        getEnv("GCASH_API_KEY", ""),
				WebhookSecret: getEnv("GCASH_WEBHOOK_SECRET", ""),
				Expiry:        15 * time.Minute,
			},
			PayPal: GatewayConfig{
				BaseURL:       getEnv("PAYPAL_BASE_URL", ""),
				APIKey:        getEnv("PAYPAL_API_KEY", ""),
				WebhookSecret: getEnv("PAYPAL_WEBHOOK_SECRET", ""),
				Expiry:        30 * time.Minute,
			},
			Stripe: GatewayConfig{
				BaseURL:       getEnv("STRIPE_BASE_URL", ""),
				APIKey:        getEnv("STRIPE_API_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
				Expiry:        30 * time.Minute,
			},
		},
		Fraud: FraudConfig{
			BlockThreshold:       getEnvAsInt("FRAUD_BLOCK_THRESHOLD", 50),
			FailedAttemptWindow:  30 * time.Minute,
			MaxFailedAttempts:    getEnvAsInt("FRAUD_MAX_FAILED_ATTEMPTS", 5),
			MaxPaymentsPerHour:   getEnvAsInt("FRAUD_MAX_PAYMENTS_PER_HOUR", 5),
			MaxPaymentsPerDay:    getEnvAsInt("FRAUD_MAX_PAYMENTS_PER_DAY", 15),
			MaxPaymentsPerWeek:   getEnvAsInt("FRAUD_MAX_PAYMENTS_PER_WEEK", 40),
			MaxTravelSpeedKmh:    900,
			TrackingTTL:          24 * time.Hour,
			MinimumPaymentAmount: getEnv("FRAUD_MINIMUM_PAYMENT_AMOUNT", "100.00"),
		},
		Promotion: PromotionConfig{
			YearLevels: []string{"first_year", "second_year", "third_year", "fourth_year"},
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateways.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateways config: %v", err))
	}

	if err := c.Fraud.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("fraud config: %v", err))
	}

	if err := c.Promotion.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("promotion config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *GatewaysConfig) Validate() error {
	for name, gw := range map[string]GatewayConfig{
		"gcash":  c.GCash,
		"paypal": c.PayPal,
		"stripe": c.Stripe,
	} {
		if gw.WebhookSecret == "" {
			return fmt.Errorf("%s webhook_secret is required", name)
		}
	}
	return nil
}

func (c *FraudConfig) Validate() error {
	if c.BlockThreshold <= 0 {
		return errors.New("block_threshold must be positive")
	}
	if c.MaxFailedAttempts <= 0 {
		return errors.New("max_failed_attempts must be positive")
	}
	return nil
}

func (c *PromotionConfig) Validate() error {
	if len(c.YearLevels) == 0 {
		return errors.New("year_levels must not be empty")
	}
	seen := make(map[string]bool, len(c.YearLevels))
	for _, lvl := range c.YearLevels {
		if seen[lvl] {
			return fmt.Errorf("duplicate year level %q", lvl)
		}
		seen[lvl] = true
	}
	return nil
}
