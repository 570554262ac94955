// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Detection
	DetectionLookback time.Duration // backward-looking window scanned by RunDetection
	DetectionInterval time.Duration // scheduled sweep interval; 0 disables the timer
	DetectionWorkers  int           // worker pool size shared by batch and async checks
	RapidWindow       time.Duration
	RapidBurstCount   int

	// Large-amount thresholds per customer tier
	PersonalThreshold  decimal.Decimal
	BusinessThreshold  decimal.Decimal
	TemporaryThreshold decimal.Decimal

	// DemoSeed fills the in-memory ledger and directory with sample data.
	// Ignored when DatabaseURL is set.
	DemoSeed bool

	// Kafka intake for per-transaction checks (disabled when Brokers is empty)
	KafkaBrokers           []string
	KafkaTransactionsTopic string
	KafkaGroupID           string

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPM       int
	CORSAllowedOrigins []string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultDetectionLookback = 48 * time.Hour
	DefaultDetectionInterval = time.Hour
	DefaultRapidWindow       = 300 * time.Second
	DefaultRapidBurstCount   = 3
	DefaultTransactionsTopic = "ledger.transaction.posted"
	DefaultKafkaGroupID      = "bankguard-detection"
	DefaultRateLimitRPM      = 600
)

var (
	DefaultPersonalThreshold  = decimal.NewFromInt(50_000_000)
	DefaultBusinessThreshold  = decimal.NewFromInt(5_000_000_000)
	DefaultTemporaryThreshold = decimal.NewFromInt(5_000_000)
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		DetectionLookback:      getEnvDuration("DETECTION_LOOKBACK", DefaultDetectionLookback),
		DetectionInterval:      getEnvDuration("DETECTION_INTERVAL", DefaultDetectionInterval),
		DetectionWorkers:       int(getEnvInt64("DETECTION_WORKERS", int64(runtime.GOMAXPROCS(0)))),
		RapidWindow:            getEnvDuration("RAPID_WINDOW", DefaultRapidWindow),
		RapidBurstCount:        int(getEnvInt64("RAPID_BURST_COUNT", DefaultRapidBurstCount)),
		PersonalThreshold:      getEnvDecimal("PERSONAL_THRESHOLD", DefaultPersonalThreshold),
		BusinessThreshold:      getEnvDecimal("BUSINESS_THRESHOLD", DefaultBusinessThreshold),
		TemporaryThreshold:     getEnvDecimal("TEMPORARY_THRESHOLD", DefaultTemporaryThreshold),
		DemoSeed:               getEnvBool("DEMO_SEED", false),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTransactionsTopic: getEnv("KAFKA_TRANSACTIONS_TOPIC", DefaultTransactionsTopic),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", DefaultKafkaGroupID),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:           int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSAllowedOrigins:     splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all settings are usable
func (c *Config) Validate() error {
	if c.DetectionLookback <= 0 {
		return fmt.Errorf("DETECTION_LOOKBACK must be positive")
	}
	if c.DetectionInterval < 0 {
		return fmt.Errorf("DETECTION_INTERVAL must not be negative")
	}
	if c.DetectionWorkers <= 0 {
		return fmt.Errorf("DETECTION_WORKERS must be at least 1")
	}
	if c.RapidWindow <= 0 {
		return fmt.Errorf("RAPID_WINDOW must be positive")
	}
	if c.RapidBurstCount <= 0 {
		return fmt.Errorf("RAPID_BURST_COUNT must be at least 1")
	}
	for _, th := range []struct {
		key   string
		value decimal.Decimal
	}{
		{"PERSONAL_THRESHOLD", c.PersonalThreshold},
		{"BUSINESS_THRESHOLD", c.BusinessThreshold},
		{"TEMPORARY_THRESHOLD", c.TemporaryThreshold},
	} {
		if !th.value.IsPositive() {
			return fmt.Errorf("%s must be positive", th.key)
		}
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTransactionsTopic == "" {
		return fmt.Errorf("KAFKA_TRANSACTIONS_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// KafkaEnabled reports whether the transaction intake consumer should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "48h") or plain seconds ("300").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
