package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_API_KEY", "test-google-key")
	t.Setenv("JWT_SECRET", "test-jwt-secret")
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.GoogleAPIKey != "test-google-key" {
		t.Errorf("Expected GoogleAPIKey 'test-google-key', got '%s'", cfg.GoogleAPIKey)
	}

	if cfg.JWTSecret != "test-jwt-secret" {
		t.Errorf("Expected JWTSecret 'test-jwt-secret', got '%s'", cfg.JWTSecret)
	}
}

func TestLoadFromEnv_MissingRequired(t *testing.T) {
	os.Unsetenv("GOOGLE_API_KEY")
	os.Unsetenv("JWT_SECRET")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("Expected default Port '8000', got '%s'", cfg.Port)
	}

	if cfg.LiveModel != "models/gemini-2.0-flash-live-001" {
		t.Errorf("Expected default LiveModel 'models/gemini-2.0-flash-live-001', got '%s'", cfg.LiveModel)
	}

	if cfg.SummaryModel != "gemini-2.0-flash-lite" {
		t.Errorf("Expected default SummaryModel 'gemini-2.0-flash-lite', got '%s'", cfg.SummaryModel)
	}

	if cfg.DefaultVoice != "Aoede" {
		t.Errorf("Expected default DefaultVoice 'Aoede', got '%s'", cfg.DefaultVoice)
	}

	if cfg.InboundQueueSize != 5 {
		t.Errorf("Expected default InboundQueueSize 5, got %d", cfg.InboundQueueSize)
	}

	if cfg.OutboundQueueSize != 192 {
		t.Errorf("Expected default OutboundQueueSize 192, got %d", cfg.OutboundQueueSize)
	}

	if cfg.OutboundOverflow != OverflowDropOldest {
		t.Errorf("Expected default OutboundOverflow '%s', got '%s'", OverflowDropOldest, cfg.OutboundOverflow)
	}

	if cfg.SilenceTimeoutSec != 30 {
		t.Errorf("Expected default SilenceTimeoutSec 30, got %d", cfg.SilenceTimeoutSec)
	}

	if cfg.StallTimeoutSec != 15 {
		t.Errorf("Expected default StallTimeoutSec 15, got %d", cfg.StallTimeoutSec)
	}

	if cfg.ReconnectMaxAttempts != 1 {
		t.Errorf("Expected default ReconnectMaxAttempts 1, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.StopGraceSec != 5 {
		t.Errorf("Expected default StopGraceSec 5, got %d", cfg.StopGraceSec)
	}
}

func TestLoadFromEnv_InvalidOverflowPolicy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OUTBOUND_OVERFLOW", "drop_newest")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error for unsupported overflow policy")
	}
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SILENCE_TIMEOUT_SEC", "60")
	t.Setenv("OUTBOUND_OVERFLOW", "block")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.SilenceTimeoutSec != 60 {
		t.Errorf("Expected SilenceTimeoutSec 60, got %d", cfg.SilenceTimeoutSec)
	}

	if cfg.OutboundOverflow != OverflowBlock {
		t.Errorf("Expected OutboundOverflow 'block', got '%s'", cfg.OutboundOverflow)
	}
}
