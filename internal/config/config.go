package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Local & Github Secrets (Fill up for local development)
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`
	Environment        string `envconfig:"ENV" default:"development"`
	Port               string `envconfig:"PORT" default:"8080"`
	APIBaseURL         string `envconfig:"API_BASE_URL" default:"http://localhost:8080/v1"`
	AutoMigrate        bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	// Razorpay
	RazorpayKeyID         string `envconfig:"RAZORPAY_KEY_ID" required:"true"`
	RazorpayKeySecret     string `envconfig:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `envconfig:"RAZORPAY_WEBHOOK_SECRET"`
	VerifyTimeoutSec      int    `envconfig:"VERIFY_TIMEOUT_SEC" default:"10"`
	Currency              string `envconfig:"CURRENCY" default:"INR"`

	// Gateway plan ids per tier
	RazorpayPlanProMonthly      string `envconfig:"RAZORPAY_PLAN_PRO_MONTHLY"`
	RazorpayPlanProYearly       string `envconfig:"RAZORPAY_PLAN_PRO_YEARLY"`
	RazorpayPlanBusinessMonthly string `envconfig:"RAZORPAY_PLAN_BUSINESS_MONTHLY"`
	RazorpayPlanBusinessYearly  string `envconfig:"RAZORPAY_PLAN_BUSINESS_YEARLY"`

	// Total billing cycles requested when a subscription is created.
	RazorpayTotalCountMonthly int `envconfig:"RAZORPAY_TOTAL_COUNT_MONTHLY" default:"120"`
	RazorpayTotalCountYearly  int `envconfig:"RAZORPAY_TOTAL_COUNT_YEARLY" default:"10"`

	// Google Drive
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `envconfig:"GOOGLE_REDIRECT_URL"`
	DriveFolderName    string `envconfig:"DRIVE_FOLDER_NAME" default:"ResizeMe"`

	// S3-compatible storage for saved files
	S3URL       string `envconfig:"S3_URL"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`

	// Redis backs the recent uploads list; in-memory when empty.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// GCP
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	PubSubEmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubBillingTopic string `envconfig:"PUBSUB_BILLING_TOPIC"`
	// Secret names resolved through Secret Manager when GCP_PROJECT_ID is set
	// and the matching plain value above is empty.
	RazorpayKeySecretName     string `envconfig:"RAZORPAY_KEY_SECRET_NAME" default:"razorpay-key-secret"`
	RazorpayWebhookSecretName string `envconfig:"RAZORPAY_WEBHOOK_SECRET_NAME" default:"razorpay-webhook-secret"`

	// Sweeper
	SweepSchedule   string `envconfig:"SWEEP_SCHEDULE" default:"0 */15 * * * *"`
	SweepTimeoutSec int    `envconfig:"SWEEP_TIMEOUT_SEC" default:"300"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// VerifyTimeout bounds payment verification and webhook handling.
func (c *Config) VerifyTimeout() time.Duration {
	if c.VerifyTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.VerifyTimeoutSec) * time.Second
}

// DriveEnabled reports whether Google OAuth credentials are configured.
func (c *Config) DriveEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// StorageEnabled reports whether an S3 bucket is configured for saved files.
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}
