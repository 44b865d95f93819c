// Package config defines the global configuration structure for the fitness
// backend. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"fittrack/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"fittrack-backend"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Push     PushConfig
	Cron     CronConfig
}

// ServerConfig holds HTTP server configuration for the API binary.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	ReadTimeout    time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout   time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	AllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// BillingConfig holds Stripe integration credentials and plan wiring.
type BillingConfig struct {
	StripeSecretKey     SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET"`
	RequestTimeout      time.Duration `envconfig:"STRIPE_REQUEST_TIMEOUT" default:"10s"`

	// FreePlanID is the plan users are demoted to when their provider
	// subscription is no longer active.
	FreePlanID int64 `envconfig:"FREE_PLAN_ID" default:"1"`
}

// PushConfig holds Firebase Cloud Messaging (HTTP v1) credentials.
type PushConfig struct {
	ProjectID          string        `envconfig:"FCM_PROJECT_ID" validate:"required"`
	ServiceAccountJSON SecretString  `envconfig:"FCM_SERVICE_ACCOUNT_JSON" validate:"required"`
	RequestTimeout     time.Duration `envconfig:"FCM_REQUEST_TIMEOUT" default:"10s"`
}

// CronConfig holds settings shared by the cron driver binaries.
type CronConfig struct {
	// LogDir is where the rotating per-month log files are written.
	LogDir string `envconfig:"CRON_LOG_DIR" default:"logs"`
	// CompressAfter controls how many completed months of logs are kept
	// uncompressed before gzip compaction.
	CompressAfter int `envconfig:"CRON_LOG_COMPRESS_AFTER" default:"1"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
