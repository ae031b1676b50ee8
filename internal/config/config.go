// Package config handles loading and parsing of EdgeLUN configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for EdgeLUN.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	ISCSI   ISCSIConfig   `yaml:"iscsi"`
	Driver  DriverConfig  `yaml:"driver"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// BackendConfig holds settings for the storage cluster's management REST API.
type BackendConfig struct {
	// Protocol is "http", "https", or "auto". "auto" resolves to http.
	Protocol string `yaml:"protocol"`
	// Host is the management API host of the storage cluster.
	Host string `yaml:"host"`
	// Port is the management API port.
	Port int `yaml:"port"`
	// Username and Password are passed through as basic-auth credentials.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Bucket is the slash-separated cluster/tenant/bucket path hosting the LUNs.
	Bucket string `yaml:"bucket"`
	// TimeoutSeconds is the per-request transport timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// RetryMax is the transport-level retry count. The driver itself never
	// retries a lifecycle sequence; this knob only affects individual HTTP
	// requests and defaults to 0.
	RetryMax int `yaml:"retry_max"`
	// Mode selects the backend client: "rest" (default) or "memory", an
	// in-process emulation used for development and tests.
	Mode string `yaml:"mode"`
}

// ISCSIConfig holds iSCSI export settings.
type ISCSIConfig struct {
	// TargetPortalPort is the portal port handed to initiators.
	TargetPortalPort int `yaml:"target_portal_port"`
}

// DriverConfig holds driver identity settings.
type DriverConfig struct {
	// BackendName is the volume backend name reported in stats. Defaults to
	// the driver name when unset.
	BackendName string `yaml:"backend_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text, json.
	Format string `yaml:"format"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to edgelun.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "edgelun.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "edgelun.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the parts of the configuration that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Backend.Host == "" {
		return fmt.Errorf("backend.host is required")
	}
	if _, _, _, err := SplitBucketPath(c.Backend.Bucket); err != nil {
		return err
	}
	switch c.Backend.Protocol {
	case "http", "https", "auto":
	default:
		return fmt.Errorf("backend.protocol must be http, https, or auto, got %q", c.Backend.Protocol)
	}
	switch c.Backend.Mode {
	case "rest", "memory":
	default:
		return fmt.Errorf("backend.mode must be rest or memory, got %q", c.Backend.Mode)
	}
	return nil
}

// SplitBucketPath splits a cluster/tenant/bucket path into its components.
func SplitBucketPath(path string) (cluster, tenant, bucket string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("backend.bucket must be cluster/tenant/bucket, got %q", path)
	}
	return parts[0], parts[1], parts[2], nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9800,
			ShutdownTimeout: 30,
		},
		Backend: BackendConfig{
			Protocol:       "auto",
			Port:           8080,
			Username:       "admin",
			Password:       "nexenta",
			TimeoutSeconds: 30,
			Mode:           "rest",
		},
		ISCSI: ISCSIConfig{
			TargetPortalPort: 3260,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9800
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Backend.Protocol == "" {
		cfg.Backend.Protocol = "auto"
	}
	if cfg.Backend.Port == 0 {
		cfg.Backend.Port = 8080
	}
	if cfg.Backend.Username == "" {
		cfg.Backend.Username = "admin"
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = 30
	}
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = "rest"
	}
	if cfg.ISCSI.TargetPortalPort == 0 {
		cfg.ISCSI.TargetPortalPort = 3260
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
