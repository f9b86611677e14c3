// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Upstream wallet provider
	UpstreamRPCURL string
	ChainID        int64 // expected chain id, 0 skips the check

	// Remote scoring service
	ScoringURL       string
	ScoringTimeout   time.Duration
	BreakerThreshold int
	BreakerOpenFor   time.Duration

	// DecisionTimeout bounds how long a submission waits for a decision.
	// Zero waits forever.
	DecisionTimeout time.Duration

	// Database (optional, uses in-memory verdict store if not set)
	DatabaseURL string

	// Security
	OperatorToken string
	CORSOrigins   []string
	RateLimitRPM  int

	// Verdict webhook (optional)
	WebhookURL    string
	WebhookSecret string

	// Tracing (optional)
	OTLPEndpoint string

	BusQueueSize    int
	ShutdownTimeout time.Duration
}

const (
	DefaultPort             = "8545"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultScoringURL       = "http://localhost:8000"
	DefaultScoringTimeout   = 10 * time.Second
	DefaultDecisionTimeout  = 10 * time.Minute
	DefaultBreakerThreshold = 5
	DefaultBreakerOpenFor   = 30 * time.Second
	DefaultRateLimitRPM     = 600
	DefaultBusQueueSize     = 256
	DefaultShutdownTimeout  = 15 * time.Second
)

// Load reads configuration from environment variables, loading .env first
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		UpstreamRPCURL:   os.Getenv("UPSTREAM_RPC_URL"),
		ChainID:          getEnvInt64("CHAIN_ID", 0, &errs),
		ScoringURL:       strings.TrimRight(getEnv("SCORING_URL", DefaultScoringURL), "/"),
		ScoringTimeout:   getEnvDuration("SCORING_TIMEOUT", DefaultScoringTimeout, &errs),
		BreakerThreshold: int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold, &errs)),
		BreakerOpenFor:   getEnvDuration("BREAKER_OPEN_FOR", DefaultBreakerOpenFor, &errs),
		DecisionTimeout:  getEnvDuration("DECISION_TIMEOUT", DefaultDecisionTimeout, &errs),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OperatorToken:    os.Getenv("OPERATOR_TOKEN"),
		CORSOrigins:      splitList(os.Getenv("CORS_ORIGINS")),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM, &errs)),
		WebhookURL:       os.Getenv("WEBHOOK_URL"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		BusQueueSize:     int(getEnvInt64("BUS_QUEUE_SIZE", DefaultBusQueueSize, &errs)),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout, &errs),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.UpstreamRPCURL == "" {
		return fmt.Errorf("UPSTREAM_RPC_URL is required")
	}
	if err := checkURL("UPSTREAM_RPC_URL", c.UpstreamRPCURL, "http", "https", "ws", "wss"); err != nil {
		return err
	}
	if err := checkURL("SCORING_URL", c.ScoringURL, "http", "https"); err != nil {
		return err
	}
	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("SCORING_TIMEOUT must be positive")
	}
	if c.DecisionTimeout < 0 {
		return fmt.Errorf("DECISION_TIMEOUT must not be negative (0 disables it)")
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be at least 1")
	}
	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_RPM must be at least 1")
	}
	if c.BusQueueSize < 1 {
		return fmt.Errorf("BUS_QUEUE_SIZE must be at least 1")
	}
	if c.IsProduction() && c.OperatorToken == "" {
		return fmt.Errorf("OPERATOR_TOKEN is required in production")
	}
	if c.WebhookURL != "" {
		if err := checkURL("WEBHOOK_URL", c.WebhookURL, "http", "https"); err != nil {
			return err
		}
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
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

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s", key, strings.Join(schemes, ", "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64, errs *[]error) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return i
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
