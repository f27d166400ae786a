package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
)

// Storage backends.
const (
	StorageGCS = "gcs"
	StorageS3  = "s3"
)

// Secret names read when AWS_USE_SECRETS=true.
const (
	SecretDBCredentials     = "fotofacil/DB_CREDENTIALS"
	SecretGCPServiceAccount = "fotofacil/GCP_SERVICE_ACCOUNT"
	SecretMercadoPagoToken  = "fotofacil/MERCADOPAGO_ACCESS_TOKEN"
)

type Config struct {
	Env         string
	Port        string
	ServiceName string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	StorageProvider       string
	GCSBucket             string
	GCPServiceAccountJSON string
	S3Bucket              string
	S3PublicBaseURL       string

	WatermarkFailOpen     bool
	AllowUnsignedFallback bool
	UploadBatchDelay      time.Duration
	MaxUploadBytes        int64

	MPAccessToken     string
	MPNotificationURL string
	MPWebhookSecret   string

	RedisURL         string
	WebhookDedupeTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	SNSTopicARN  string

	CloudWatchMetrics   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	AllowedOrigins      string
	JWTSecret           string
	LookupRatePerMinute int
	LookupBurst         int
	RequestTimeout      time.Duration
}

// SecretSource resolves named secrets.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// LoadConfig reads .env and the environment, overlays AWS Secrets Manager
// values when AWS_USE_SECRETS=true, and validates the result.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var secrets SecretSource
	if os.Getenv("AWS_USE_SECRETS") == "true" {
		awsCfg, err := aws_pkg.LoadAWSConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config for secrets: %w", err)
		}
		secrets = aws_pkg.NewSecretsClient(awsCfg)
	}
	return Load(context.Background(), secrets)
}

// Load builds the configuration from the environment and optional secrets.
func Load(ctx context.Context, secrets SecretSource) (*Config, error) {
	var errs []error

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8090"),
		ServiceName: getEnv("SERVICE_NAME", "fotofacil-backend"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "America/Sao_Paulo"),

		StorageProvider:       strings.ToLower(getEnv("STORAGE_PROVIDER", StorageGCS)),
		GCSBucket:             os.Getenv("GCS_BUCKET"),
		GCPServiceAccountJSON: os.Getenv("GCP_SERVICE_ACCOUNT_JSON"),
		S3Bucket:              os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:       os.Getenv("S3_PUBLIC_BASE_URL"),

		MPAccessToken:     os.Getenv("MP_ACCESS_TOKEN"),
		MPNotificationURL: os.Getenv("MP_NOTIFICATION_URL"),
		MPWebhookSecret:   os.Getenv("MP_WEBHOOK_SECRET"),

		RedisURL:    os.Getenv("REDIS_URL"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "fotofacil.order-status"),
		SNSTopicARN: os.Getenv("SNS_TOPIC_ARN"),

		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "FotoFacil"),
		CloudWatchLogGroup:  os.Getenv("CLOUDWATCH_LOG_GROUP"),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
	}

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	cfg.WatermarkFailOpen = getBool("WATERMARK_FAIL_OPEN", false, &errs)
	cfg.AllowUnsignedFallback = getBool("SIGNED_URL_ALLOW_UNSIGNED_FALLBACK", false, &errs)
	cfg.CloudWatchMetrics = getBool("CLOUDWATCH_METRICS_ENABLED", false, &errs)
	cfg.UploadBatchDelay = getDuration("UPLOAD_BATCH_DELAY", 300*time.Millisecond, &errs)
	cfg.WebhookDedupeTTL = getDuration("WEBHOOK_DEDUPE_TTL", 48*time.Hour, &errs)
	cfg.RequestTimeout = getDuration("REQUEST_TIMEOUT", 30*time.Second, &errs)
	cfg.MaxUploadBytes = int64(getInt("MAX_UPLOAD_MB", 50, &errs)) << 20
	cfg.LookupRatePerMinute = getInt("LOOKUP_RATE_PER_MINUTE", 20, &errs)
	cfg.LookupBurst = getInt("LOOKUP_BURST", 10, &errs)

	if secrets != nil {
		if err := applySecrets(ctx, cfg, secrets); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func applySecrets(ctx context.Context, cfg *Config, secrets SecretSource) error {
	if dbjson, err := secrets.GetSecret(ctx, SecretDBCredentials); err == nil && dbjson != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(dbjson), &m); err != nil {
			return fmt.Errorf("%s: %w", SecretDBCredentials, err)
		}
		overlay(&cfg.PostgresUser, m["POSTGRES_USER"])
		overlay(&cfg.PostgresPassword, m["POSTGRES_PASSWORD"])
		overlay(&cfg.PostgresDB, m["POSTGRES_DB"])
		overlay(&cfg.PostgresHost, m["POSTGRES_HOST"])
		overlay(&cfg.PostgresPort, m["POSTGRES_PORT"])
	}
	if sa, err := secrets.GetSecret(ctx, SecretGCPServiceAccount); err == nil {
		overlay(&cfg.GCPServiceAccountJSON, sa)
	}
	if token, err := secrets.GetSecret(ctx, SecretMercadoPagoToken); err == nil {
		overlay(&cfg.MPAccessToken, strings.TrimSpace(token))
	}
	return nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		errs = append(errs, errors.New("database config incomplete"))
	}
	switch c.StorageProvider {
	case StorageGCS:
		if c.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required"))
		}
		if c.GCPServiceAccountJSON == "" {
			errs = append(errs, errors.New("GCP_SERVICE_ACCOUNT_JSON is required"))
		}
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_PROVIDER must be %q or %q", StorageGCS, StorageS3))
	}
	if c.MPAccessToken == "" {
		errs = append(errs, errors.New("MP_ACCESS_TOKEN is required"))
	}
	if c.LookupRatePerMinute <= 0 || c.LookupBurst <= 0 {
		errs = append(errs, errors.New("lookup rate limits must be positive"))
	}
	return errs
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
