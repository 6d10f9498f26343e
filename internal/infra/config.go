package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// PublicBaseURL is the externally reachable base of this service; callback
	// URLs handed to providers are built from it.
	PublicBaseURL string
	// WebhookStaticToken is the deployment-wide shared secret carried as the
	// `token` query parameter on every callback URL.
	WebhookStaticToken string
	// WebhookMinElapsed rejects success callbacks arriving faster than this
	// after submission. Failure callbacks are exempt.
	WebhookMinElapsed time.Duration
	// WebhookLateFactor flags (without rejecting) callbacks arriving later
	// than factor x the model's expected duration.
	WebhookLateFactor int

	StorageBackend  string // "s3" or "filesystem"
	StoragePath     string
	S3Bucket        string
	S3Region        string
	S3PublicBaseURL string
	SignedURLTTL    time.Duration

	GeoIPDBPath string

	DownloadTimeout  time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		WebhookStaticToken: os.Getenv("WEBHOOK_STATIC_TOKEN"),
		WebhookMinElapsed:  time.Second * time.Duration(getEnvInt("WEBHOOK_MIN_ELAPSED_SECONDS", 3)),
		WebhookLateFactor:  getEnvInt("WEBHOOK_LATE_FACTOR", 4),
		StorageBackend:     getEnv("STORAGE_BACKEND", "filesystem"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		SignedURLTTL:       time.Minute * time.Duration(getEnvInt("SIGNED_URL_TTL_MINUTES", 15)),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		DownloadTimeout:    time.Second * time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 60)),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WebhookStaticToken == "" {
		return nil, fmt.Errorf("WEBHOOK_STATIC_TOKEN is required")
	}

	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
