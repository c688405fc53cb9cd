package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type DBConfig struct {
	// postgres:// or postgresql:// selects pgx; anything else is a SQLite path
	// (an optional sqlite:// prefix is stripped).
	DatabaseURL      string `envconfig:"DATABASE_URL" default:"sqlite://data/fax.db"`
	DBMaxConns       int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	AutoMigrate      bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	MigrationsSource string `envconfig:"MIGRATIONS_SOURCE" default:"file://migrations"`
}

type TelnyxConfig struct {
	MockProviders     bool          `envconfig:"MOCK_PROVIDERS" default:"true"`
	APIKey            string        `envconfig:"TELNYX_API_KEY"`
	ConnectionID      string        `envconfig:"TELNYX_CONNECTION_ID"`
	FromNumber        string        `envconfig:"TELNYX_FROM_NUMBER"`
	BaseURL           string        `envconfig:"TELNYX_BASE_URL" default:"https://api.telnyx.com"`
	RequireHTTPSMedia bool          `envconfig:"TELNYX_REQUIRE_HTTPS_MEDIA" default:"false"`
	ProviderTimeout   time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`

	// Webhook signature verification; empty key disables it
	WebhookPublicKey string        `envconfig:"TELNYX_WEBHOOK_PUBLIC_KEY"`
	WebhookTolerance time.Duration `envconfig:"WEBHOOK_TIMESTAMP_TOLERANCE" default:"300s"`
}

type MediaConfig struct {
	Backend       string        `envconfig:"STORAGE_BACKEND" default:"local"` // local | s3
	UploadsDir    string        `envconfig:"UPLOADS_DIR" default:"data/uploads"`
	PublicBaseURL string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	AppSecretKey  string        `envconfig:"APP_SECRET_KEY" default:"dev-insecure-change-me"`
	PresignTTL    time.Duration `envconfig:"STORAGE_PRESIGN_TTL" default:"900s"`

	S3Bucket          string `envconfig:"S3_BUCKET"`
	S3Region          string `envconfig:"S3_REGION"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Prefix          string `envconfig:"S3_PREFIX" default:"uploads"`
	S3PublicBaseURL   string `envconfig:"S3_PUBLIC_BASE_URL"`
}

type NotifyConfig struct {
	ResendAPIKey    string `envconfig:"RESEND_API_KEY"`
	ResendFromEmail string `envconfig:"RESEND_FROM_EMAIL"`
	ResendBaseURL   string `envconfig:"RESEND_API_BASE_URL" default:"https://api.resend.com"`

	SMTPHost      string `envconfig:"SMTP_HOST"`
	SMTPPort      int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername  string `envconfig:"SMTP_USERNAME"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
	SMTPFromEmail string `envconfig:"SMTP_FROM_EMAIL" default:"no-reply@example.com"`
}

type RateLimitConfig struct {
	// REDIS_URL shares windows across replicas; unset keeps them in process
	RedisURL            string `envconfig:"REDIS_URL"`
	JobsPerIPHour       int    `envconfig:"RATE_LIMIT_IP_PER_HOUR" default:"200"`
	WebhooksPerIPMinute int    `envconfig:"RATE_LIMIT_WEBHOOK_IP_PER_MINUTE" default:"600"`
	// TRUST_FORWARDED_FOR keys limits on the first X-Forwarded-For hop
	TrustForwardedFor bool `envconfig:"TRUST_FORWARDED_FOR" default:"true"`
}

type AWSConfig struct {
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type APIConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	SupportedCountries []string `envconfig:"SUPPORTED_COUNTRY_CODES" default:"US"`
	// also mount the webhook receiver, for single-process setups
	ServeWebhooks bool `envconfig:"SERVE_WEBHOOKS" default:"true"`

	DBConfig
	TelnyxConfig
	MediaConfig
	NotifyConfig
	RateLimitConfig
	AWSConfig
}

type WorkerConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	SQSWaitTime   int32 `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs    int32 `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout int32 `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"20"`

	ProviderRPSPerPod   float64       `envconfig:"PROVIDER_RPS_PER_POD" default:"5"`
	ProviderBurst       int           `envconfig:"PROVIDER_BURST" default:"10"`
	BreakerFailures     uint32        `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"10"`
	BreakerOpenDuration time.Duration `envconfig:"BREAKER_OPEN_DURATION" default:"20s"`

	DBConfig
	TelnyxConfig
	MediaConfig
	NotifyConfig
	AWSConfig
}

type WebhookConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBConfig
	TelnyxConfig
	NotifyConfig
	RateLimitConfig
}

func (c APIConfig) IsProduction() bool { return c.Environment == "production" }

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if cfg.SQSQueueURL == "" {
		panic("required key SQS_QUEUE_URL missing value")
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
