package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Working directory for bundles, mounts and the TUI log
	WorkDir string `mapstructure:"work-dir"`

	// Ventoy bundle
	VentoyVersion string `mapstructure:"ventoy-version"`
	VentoyURL     string `mapstructure:"ventoy-url"`
	VentoySHA256  string `mapstructure:"ventoy-sha256"`

	// S3 mirror (optional, anonymous)
	MirrorBucket string `mapstructure:"mirror-bucket"`
	MirrorKey    string `mapstructure:"mirror-key"`
	MirrorRegion string `mapstructure:"mirror-region"`

	// Privileged commands
	Escalation     string        `mapstructure:"escalation"`
	InstallTimeout time.Duration `mapstructure:"install-timeout"`

	// Copy behaviour
	Filesystem      string        `mapstructure:"filesystem"`
	CopyTimeout     time.Duration `mapstructure:"copy-timeout"`
	Verify          string        `mapstructure:"verify"`
	ContinueOnError bool          `mapstructure:"continue-on-error"`
	StrictISO       bool          `mapstructure:"strict-iso"`

	// Archive limits
	MaxFileSize         int64   `mapstructure:"max-file-size"`
	MaxTotalSize        int64   `mapstructure:"max-total-size"`
	MaxCompressionRatio float64 `mapstructure:"max-compression-ratio"`

	// FSM configuration
	UseFSM        bool `mapstructure:"use-fsm"`
	FSMMaxRetries int  `mapstructure:"fsm-max-retries"`

	LogLevel string `mapstructure:"log-level"`
}

// Escalation modes
const (
	EscalationPkexec = "pkexec"
	EscalationSudo   = "sudo"
	EscalationNone   = "none"
)

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	v := viper.GetViper()
	SetDefaults(v)

	// Environment variables (will be VWRITER_WORK_DIR, etc.)
	v.SetEnvPrefix("VWRITER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.ventoy-writer")

	// Read config file (ignore if not found)
	_ = v.ReadInConfig()

	return decode(v)
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("sqlite-path", ".artifacts/history.db")
	v.SetDefault("fsm-db-path", ".artifacts/fsm")
	v.SetDefault("work-dir", "/tmp/ventoy-writer")
	v.SetDefault("ventoy-version", "1.1.05")
	v.SetDefault("ventoy-url", "")
	v.SetDefault("ventoy-sha256", "")
	v.SetDefault("mirror-bucket", "")
	v.SetDefault("mirror-key", "")
	v.SetDefault("mirror-region", "us-east-1")
	v.SetDefault("escalation", EscalationPkexec)
	v.SetDefault("install-timeout", 30*time.Minute)
	v.SetDefault("filesystem", "exfat")
	v.SetDefault("copy-timeout", 4*time.Hour)
	v.SetDefault("verify", "size")
	v.SetDefault("continue-on-error", false)
	v.SetDefault("strict-iso", true)
	v.SetDefault("max-file-size", 512*1024*1024)
	v.SetDefault("max-total-size", 2*1024*1024*1024)
	v.SetDefault("max-compression-ratio", 100.0)
	v.SetDefault("use-fsm", false)
	v.SetDefault("fsm-max-retries", 3)
	v.SetDefault("log-level", "info")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.UseFSM && c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty when use-fsm is set")
	}
	if c.VentoyVersion == "" {
		return fmt.Errorf("ventoy-version cannot be empty")
	}
	if c.VentoySHA256 != "" && len(c.VentoySHA256) != 64 {
		return fmt.Errorf("ventoy-sha256 must be a hex SHA-256 digest")
	}
	if c.MirrorKey != "" && c.MirrorBucket == "" {
		return fmt.Errorf("mirror-key requires mirror-bucket")
	}
	switch c.Escalation {
	case EscalationPkexec, EscalationSudo, EscalationNone:
	default:
		return fmt.Errorf("escalation must be one of pkexec, sudo, none (got %q)", c.Escalation)
	}
	switch c.Verify {
	case "size", "sha256":
	default:
		return fmt.Errorf("verify must be size or sha256 (got %q)", c.Verify)
	}
	if c.Filesystem == "" {
		return fmt.Errorf("filesystem cannot be empty")
	}
	if c.InstallTimeout <= 0 {
		return fmt.Errorf("install-timeout must be positive")
	}
	if c.CopyTimeout <= 0 {
		return fmt.Errorf("copy-timeout must be positive")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive")
	}
	if c.MaxTotalSize <= 0 {
		return fmt.Errorf("max-total-size must be positive")
	}
	if c.MaxCompressionRatio < 0 {
		return fmt.Errorf("max-compression-ratio must be non-negative")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be debug, info, warn or error (got %q)", c.LogLevel)
	}
	return nil
}
