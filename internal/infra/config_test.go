package infra

import (
	"testing"
	"time"
)

func TestLoadConfig_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WEBHOOK_STATIC_TOKEN", "tok")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfig_RequiresStaticToken(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("WEBHOOK_STATIC_TOKEN", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when WEBHOOK_STATIC_TOKEN is missing")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("WEBHOOK_STATIC_TOKEN", "tok")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.WebhookMinElapsed != 3*time.Second {
		t.Fatalf("expected default min elapsed 3s, got %s", cfg.WebhookMinElapsed)
	}
	if cfg.WebhookLateFactor != 4 {
		t.Fatalf("expected default late factor 4, got %d", cfg.WebhookLateFactor)
	}
	if cfg.StorageBackend != "filesystem" {
		t.Fatalf("expected default storage backend filesystem, got %s", cfg.StorageBackend)
	}
}

func TestLoadConfig_S3RequiresBucket(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("WEBHOOK_STATIC_TOKEN", "tok")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when S3 bucket is missing")
	}
}
