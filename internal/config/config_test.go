package config

import (
	"testing"
	"time"
)

func TestNewARPConfig_Defaults(t *testing.T) {
	cfg := NewARPConfig()

	if cfg.BatchSize != 100 {
		t.Errorf("expected batch_size=100, got %d", cfg.BatchSize)
	}
	if cfg.BatchTimeout != 100*time.Millisecond {
		t.Errorf("expected batch_timeout=100ms, got %v", cfg.BatchTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected max_retries=3, got %d", cfg.MaxRetries)
	}
	if cfg.QueueCapacity != 100000 {
		t.Errorf("expected queue_capacity=100000, got %d", cfg.QueueCapacity)
	}
	if cfg.RPCTimeout != 30*time.Second {
		t.Errorf("expected rpc_timeout=30s, got %v", cfg.RPCTimeout)
	}
}

func TestARPConfig_Validate_RequiresServiceURL(t *testing.T) {
	cfg := NewARPConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing audit_service_url")
	}
	cfg.AuditServiceURL = "wss://cap.example.com/publish"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestNewCAPConfig_Defaults(t *testing.T) {
	cfg := NewCAPConfig()

	if cfg.DigestInterval != time.Hour {
		t.Errorf("expected digest_interval=1h, got %v", cfg.DigestInterval)
	}
	if cfg.KeyRotationInterval != 90*24*time.Hour {
		t.Errorf("expected key_rotation_interval=90d, got %v", cfg.KeyRotationInterval)
	}
}

func TestCAPConfig_Validate(t *testing.T) {
	cfg := NewCAPConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	cfg.BindAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing bind_addr")
	}
}

func TestLoadCAPConfig_GraceDefaultsToDigestInterval(t *testing.T) {
	t.Setenv("CAP_CONFIG_FILE", "/nonexistent/path.yaml")
	t.Setenv("CAP_DATABASE_URL", "")

	cfg, err := LoadCAPConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RotationGracePeriod != cfg.DigestInterval {
		t.Errorf("expected rotation_grace_period to default to digest_interval, got %v vs %v", cfg.RotationGracePeriod, cfg.DigestInterval)
	}
}
