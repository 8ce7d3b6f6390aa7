package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("server.address = %q", cfg.Server.Address)
	}
	if cfg.RateLimit.Burst != 20 || cfg.RateLimit.PerSecond != 10 {
		t.Fatalf("rate_limit = %+v", cfg.RateLimit)
	}
	if cfg.OTP.MaxAttempts != 5 || cfg.OTP.TTL != 10*time.Minute {
		t.Fatalf("otp = %+v", cfg.OTP)
	}
	if cfg.Sweep.Interval != time.Hour {
		t.Fatalf("sweep.interval = %v", cfg.Sweep.Interval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NB_SERVER_ADDRESS", ":9090")
	t.Setenv("NB_OTP_MAX_ATTEMPTS", "3")
	t.Setenv("NB_OTP_TTL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("server.address = %q", cfg.Server.Address)
	}
	if cfg.OTP.MaxAttempts != 3 {
		t.Fatalf("otp.max_attempts = %d", cfg.OTP.MaxAttempts)
	}
	if cfg.OTP.TTL != 5*time.Minute {
		t.Fatalf("otp.ttl = %v", cfg.OTP.TTL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("NB_OTP_MAX_ATTEMPTS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero attempt budget")
	}
}
