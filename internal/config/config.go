package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all runtime configuration for the service.
type Config struct {
	Environment string
	HTTPAddr    string

	Database DatabaseConfig
	Stripe   StripeConfig
	Mailer   MailerConfig
	Dunning  DunningConfig

	Tracing TracingConfig

	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	// PlatformPriceID is the gateway price used for per-member platform billing.
	PlatformPriceID string
}

type MailerConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// DunningConfig controls the escalation schedule for unresolved payment
// failure streaks. All durations are measured from the first failure of the
// streak, except RetryInterval which spaces out retry bookkeeping.
type DunningConfig struct {
	RetryInterval   time.Duration
	WarningAfter    time.Duration
	PauseAfter      time.Duration
	DeactivateAfter time.Duration
	PollInterval    time.Duration
	BatchSize       int
}

type TracingConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	SamplingRatio    float64
}

type BootstrapConfig struct {
	EnsureDefaultOrg bool
}

// IsCloud reports whether the service runs as the hosted platform rather
// than a self-hosted install.
func (c Config) IsCloud() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "cloud")
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Environment: envString("STUDIOLANE_ENV", "development"),
		HTTPAddr:    envString("HTTP_ADDR", ":8080"),
		Database: DatabaseConfig{
			DSN:             envString("DATABASE_DSN", ""),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Stripe: StripeConfig{
			APIKey:          envString("STRIPE_API_KEY", ""),
			WebhookSecret:   envString("STRIPE_WEBHOOK_SECRET", ""),
			PlatformPriceID: envString("STRIPE_PLATFORM_PRICE_ID", ""),
		},
		Mailer: MailerConfig{
			Endpoint: envString("MAILER_ENDPOINT", ""),
			APIKey:   envString("MAILER_API_KEY", ""),
			Timeout:  envDuration("MAILER_TIMEOUT", 10*time.Second),
		},
		Dunning: DunningConfig{
			RetryInterval:   envDuration("DUNNING_RETRY_INTERVAL", 72*time.Hour),
			WarningAfter:    envDuration("DUNNING_WARNING_AFTER", 7*24*time.Hour),
			PauseAfter:      envDuration("DUNNING_PAUSE_AFTER", 14*24*time.Hour),
			DeactivateAfter: envDuration("DUNNING_DEACTIVATE_AFTER", 30*24*time.Hour),
			PollInterval:    envDuration("DUNNING_POLL_INTERVAL", time.Hour),
			BatchSize:       envInt("DUNNING_BATCH_SIZE", 100),
		},
		Tracing: TracingConfig{
			Enabled:          envBool("TRACING_ENABLED", false),
			ExporterEndpoint: envString("TRACING_EXPORTER_ENDPOINT", ""),
			ExporterProtocol: envString("TRACING_EXPORTER_PROTOCOL", "grpc"),
			SamplingRatio:    envFloat("TRACING_SAMPLING_RATIO", 0.1),
		},
		Bootstrap: BootstrapConfig{
			EnsureDefaultOrg: envBool("BOOTSTRAP_ENSURE_DEFAULT_ORG", true),
		},
	}
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
