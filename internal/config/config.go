// Package config defines the configuration of the onboarding orchestrator.
// Configuration is loaded once at process start and is immutable afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"carepath/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Task store backends.
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Config is the top-level configuration struct.
// Sub-components receive only the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"carepath-onboarding"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Orchestrator  OrchestratorConfig
	Sweeper       SweeperConfig
	Billing       BillingConfig
	Email         EmailConfig
	Chat          ChatConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not Env.
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	OnboardingQueue string `envconfig:"SQS_ONBOARDING" validate:"required,url"`
	TasksTable      string `envconfig:"DYNAMODB_TASKS_TABLE" default:"registration_tasks"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// OrchestratorConfig tunes the task runner, retry policy and subject lease.
type OrchestratorConfig struct {
	MaxRetries     int           `envconfig:"ORCHESTRATOR_MAX_RETRIES" default:"3" validate:"min=1"`
	BackoffUnit    time.Duration `envconfig:"ORCHESTRATOR_BACKOFF_UNIT" default:"60s" validate:"min=1s"`
	HandlerTimeout time.Duration `envconfig:"ORCHESTRATOR_HANDLER_TIMEOUT" default:"30s" validate:"min=1s"`
	LeaseTTL       time.Duration `envconfig:"ORCHESTRATOR_LEASE_TTL" default:"2m" validate:"min=1s"`
	// MaxParallel caps concurrent handlers per run. Zero means one goroutine per task.
	MaxParallel int `envconfig:"ORCHESTRATOR_MAX_PARALLEL" default:"0" validate:"min=0"`
	// RequireAllCompleted makes a permanently failed task block convergence.
	RequireAllCompleted bool   `envconfig:"ORCHESTRATOR_REQUIRE_ALL_COMPLETED" default:"false"`
	TaskStoreBackend    string `envconfig:"TASK_STORE_BACKEND" default:"postgres" validate:"oneof=postgres dynamodb"`
}

// SweeperConfig controls the scheduled retry sweep.
type SweeperConfig struct {
	BatchSize        int           `envconfig:"SWEEPER_BATCH_SIZE" default:"500" validate:"min=1,max=5000"`
	EnqueuePerSecond float64       `envconfig:"SWEEPER_ENQUEUE_PER_SECOND" default:"50" validate:"gt=0"`
	LockTTL          time.Duration `envconfig:"SWEEPER_LOCK_TTL" default:"5m" validate:"min=1s"`
}

// BillingConfig holds the Stripe webhook signing secret.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// EmailConfig holds email delivery settings for welcome notifications.
type EmailConfig struct {
	FromAddress      string `envconfig:"EMAIL_FROM_ADDRESS" default:"welcome@carepath.health" validate:"email"`
	FromName         string `envconfig:"EMAIL_FROM_NAME" default:"CarePath"`
	ConfigurationSet string `envconfig:"SES_CONFIGURATION_SET"`
	DashboardURL     string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// ChatConfig configures the external chat room service.
// When BaseURL is empty rooms are provisioned directly in the database.
type ChatConfig struct {
	BaseURL string        `envconfig:"CHAT_SERVICE_URL" validate:"omitempty,url"`
	APIKey  SecretString  `envconfig:"CHAT_SERVICE_API_KEY"`
	Timeout time.Duration `envconfig:"CHAT_SERVICE_TIMEOUT" default:"10s"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required,min=16"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CarePath/Onboarding"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
