package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func defaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaults(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.InstallTimeout != 30*time.Minute || cfg.CopyTimeout != 4*time.Hour {
		t.Errorf("unexpected timeouts: %v %v", cfg.InstallTimeout, cfg.CopyTimeout)
	}
	if cfg.Escalation != EscalationPkexec || cfg.Filesystem != "exfat" || !cfg.StrictISO {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxCompressionRatio != 100 {
		t.Errorf("expected compression ratio limit 100, got %v", cfg.MaxCompressionRatio)
	}
}

func TestDurationFromString(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("install-timeout", "45m")

	cfg, err := decode(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InstallTimeout != 45*time.Minute {
		t.Errorf("expected 45m, got %v", cfg.InstallTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"empty sqlite path", func(c *Config) { c.SQLitePath = "" }, "sqlite-path"},
		{"empty work dir", func(c *Config) { c.WorkDir = "" }, "work-dir"},
		{"fsm without db", func(c *Config) { c.UseFSM = true; c.FSMDBPath = "" }, "fsm-db-path"},
		{"bad digest", func(c *Config) { c.VentoySHA256 = "abc" }, "ventoy-sha256"},
		{"mirror key without bucket", func(c *Config) { c.MirrorKey = "ventoy.tar.gz" }, "mirror-bucket"},
		{"unknown escalation", func(c *Config) { c.Escalation = "doas" }, "escalation"},
		{"unknown verify", func(c *Config) { c.Verify = "md5" }, "verify"},
		{"zero install timeout", func(c *Config) { c.InstallTimeout = 0 }, "install-timeout"},
		{"negative copy timeout", func(c *Config) { c.CopyTimeout = -time.Second }, "copy-timeout"},
		{"zero max file size", func(c *Config) { c.MaxFileSize = 0 }, "max-file-size"},
		{"negative compression ratio", func(c *Config) { c.MaxCompressionRatio = -1 }, "max-compression-ratio"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log-level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error mentioning %q, got %v", tt.errMsg, err)
			}
		})
	}
}
