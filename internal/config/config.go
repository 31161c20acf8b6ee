// Package config loads ARP (client) and CAP (server) configuration from an
// optional YAML file plus environment variable overrides, matching spec §6.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ARPConfig is the Audit Reporting Point (client) configuration.
type ARPConfig struct {
	ServiceName     string        `json:"service_name" yaml:"service_name" env:"ARP_SERVICE_NAME"`
	TenantID        string        `json:"tenant_id" yaml:"tenant_id" env:"ARP_TENANT_ID"`
	AuditServiceURL string        `json:"audit_service_url" yaml:"audit_service_url" env:"ARP_AUDIT_SERVICE_URL"`
	BatchSize       int           `json:"batch_size" yaml:"batch_size" env:"ARP_BATCH_SIZE"`
	BatchTimeout    time.Duration `json:"batch_timeout" yaml:"batch_timeout" env:"ARP_BATCH_TIMEOUT"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" env:"ARP_MAX_RETRIES"`
	QueueCapacity   int           `json:"queue_capacity" yaml:"queue_capacity" env:"ARP_QUEUE_CAPACITY"`
	SpillDir        string        `json:"spill_dir" yaml:"spill_dir" env:"ARP_SPILL_DIR"`
	RPCTimeout      time.Duration `json:"rpc_timeout" yaml:"rpc_timeout" env:"ARP_RPC_TIMEOUT"`

	LogLevel  string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"`
}

// NewARPConfig returns an ARPConfig populated with spec §6 defaults.
func NewARPConfig() *ARPConfig {
	return &ARPConfig{
		ServiceName:   "unnamed-service",
		BatchSize:     100,
		BatchTimeout:  100 * time.Millisecond,
		MaxRetries:    3,
		QueueCapacity: 100000,
		SpillDir:      "./spill",
		RPCTimeout:    30 * time.Second,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadARPConfig loads ARP configuration from ARP_CONFIG_FILE (if set) or
// ./configs/arp.yaml (if present), then applies environment overrides.
func LoadARPConfig() (*ARPConfig, error) {
	_ = godotenv.Load()

	cfg := NewARPConfig()
	if err := loadFile(configPath("ARP_CONFIG_FILE", "configs/arp.yaml"), cfg); err != nil {
		return nil, err
	}
	if err := decodeEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that audit_service_url is set, that batch_size and
// queue_capacity are positive, and that max_retries is non-negative.
// Timing fields are not checked.
func (c *ARPConfig) Validate() error {
	if strings.TrimSpace(c.AuditServiceURL) == "" {
		return fmt.Errorf("config: audit_service_url is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be non-negative")
	}
	return nil
}

// CAPConfig is the Centralized Audit Point (server) configuration.
type CAPConfig struct {
	BindAddr            string        `json:"bind_addr" yaml:"bind_addr" env:"CAP_BIND_ADDR"`
	SinkAddr            string        `json:"sink_addr" yaml:"sink_addr" env:"CAP_SINK_ADDR"`
	DigestInterval      time.Duration `json:"digest_interval" yaml:"digest_interval" env:"CAP_DIGEST_INTERVAL"`
	KeyRotationInterval time.Duration `json:"key_rotation_interval" yaml:"key_rotation_interval" env:"CAP_KEY_ROTATION_INTERVAL"`
	KeyStoreDir         string        `json:"key_store_dir" yaml:"key_store_dir" env:"CAP_KEY_STORE_DIR"`
	ChainStoreDir       string        `json:"chain_store_dir" yaml:"chain_store_dir" env:"CAP_CHAIN_STORE_DIR"`

	// RotationGracePeriod parameterizes the "one chain interval" grace
	// period from spec §3/§9's open question. Defaults to DigestInterval
	// when zero.
	RotationGracePeriod time.Duration `json:"rotation_grace_period" yaml:"rotation_grace_period" env:"CAP_ROTATION_GRACE_PERIOD"`

	// DatabaseURL is loaded but not read by cmd/cap-server, which always
	// opens the file-backed KeyStore/ChainStore; the sqlx/lib/pq-backed
	// stores are not selected by this setting.
	DatabaseURL string `json:"database_url" yaml:"database_url" env:"CAP_DATABASE_URL"`

	LogLevel  string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"`

	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled" env:"CAP_METRICS_ENABLED"`
}

// NewCAPConfig returns a CAPConfig populated with spec §6 defaults.
func NewCAPConfig() *CAPConfig {
	return &CAPConfig{
		BindAddr:            "0.0.0.0:8443",
		DigestInterval:      time.Hour,
		KeyRotationInterval: 90 * 24 * time.Hour,
		KeyStoreDir:         "./data/keys",
		ChainStoreDir:       "./data/chain",
		LogLevel:            "info",
		LogFormat:           "json",
		MetricsEnabled:      true,
	}
}

// LoadCAPConfig loads CAP configuration from CAP_CONFIG_FILE (if set) or
// ./configs/cap.yaml (if present), then applies environment overrides.
func LoadCAPConfig() (*CAPConfig, error) {
	_ = godotenv.Load()

	cfg := NewCAPConfig()
	if err := loadFile(configPath("CAP_CONFIG_FILE", "configs/cap.yaml"), cfg); err != nil {
		return nil, err
	}
	if err := decodeEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.RotationGracePeriod <= 0 {
		cfg.RotationGracePeriod = cfg.DigestInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *CAPConfig) Validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return fmt.Errorf("config: bind_addr is required")
	}
	if c.DigestInterval <= 0 {
		return fmt.Errorf("config: digest_interval must be positive")
	}
	if strings.TrimSpace(c.KeyStoreDir) == "" {
		return fmt.Errorf("config: key_store_dir is required")
	}
	if strings.TrimSpace(c.ChainStoreDir) == "" {
		return fmt.Errorf("config: chain_store_dir is required")
	}
	return nil
}

func configPath(envVar, fallback string) string {
	if path := strings.TrimSpace(os.Getenv(envVar)); path != "" {
		return path
	}
	return fallback
}

func loadFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func decodeEnv(out any) error {
	if err := envdecode.Decode(out); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return fmt.Errorf("config: decode env: %w", err)
		}
	}
	return nil
}
