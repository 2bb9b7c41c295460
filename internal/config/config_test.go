package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("CODE_PIN_TTL", "")
	t.Setenv("MEDIA_TOKEN_MAX_AGE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CodePINTTL != 600*time.Second || cfg.CodeQRTTL != 300*time.Second {
		t.Fatalf("unexpected code ttls: %v %v", cfg.CodePINTTL, cfg.CodeQRTTL)
	}
	if cfg.MediaTokenMaxAge != time.Minute {
		t.Fatalf("unexpected token max age: %v", cfg.MediaTokenMaxAge)
	}
	if cfg.SessionTimeout != 5*time.Minute || cfg.CodeMaxAttempts != 5 {
		t.Fatalf("unexpected session defaults: %v %d", cfg.SessionTimeout, cfg.CodeMaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
}

func TestLoadDurationFormats(t *testing.T) {
	t.Setenv("CODE_PIN_TTL", "120")
	t.Setenv("CODE_QR_TTL", "90s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CodePINTTL != 2*time.Minute {
		t.Fatalf("expected bare seconds to parse, got %v", cfg.CodePINTTL)
	}
	if cfg.CodeQRTTL != 90*time.Second {
		t.Fatalf("expected duration to parse, got %v", cfg.CodeQRTTL)
	}
}

func TestValidateProductionRequiresSecretAndRedis(t *testing.T) {
	cfg := &Config{
		AppEnv:           "production",
		CodePINTTL:       time.Minute,
		CodeQRTTL:        time.Minute,
		CodeMaxAttempts:  5,
		MediaTokenMaxAge: time.Minute,
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "MEDIA_TOKEN_SECRET") {
		t.Fatalf("expected secret error, got %v", err)
	}
	cfg.MediaTokenSecret = strings.Repeat("s", 32)
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("expected redis error, got %v", err)
	}
	cfg.Redis.Addr = "redis:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	cfg := &Config{
		CodePINTTL:       time.Minute,
		CodeQRTTL:        time.Minute,
		CodeMaxAttempts:  5,
		MediaTokenMaxAge: time.Minute,
		MediaTokenSecret: "short",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}
