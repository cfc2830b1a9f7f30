package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Sched.CPUs != 4 {
		t.Errorf("CPUs = %d, want 4", cfg.Sched.CPUs)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %s/%s, want info/text", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Server.RateLimit != 50.0 || cfg.Server.RateBurst != 100 {
		t.Errorf("rate = %v/%d, want 50/100", cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	if cfg.Server.DBPath == "" {
		t.Error("DBPath is empty, want a default path")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GOTP_SERVER_ADDR", ":9999")
	t.Setenv("GOTP_SCHED_CPUS", "8")
	t.Setenv("GOTP_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.Server.Addr)
	}
	if cfg.Sched.CPUs != 8 {
		t.Errorf("CPUs = %d, want 8", cfg.Sched.CPUs)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gotp.yaml")
	content := `server:
  addr: ":7070"
  db_path: ":memory:"
sched:
  cpus: 2
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("Addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Server.DBPath != ":memory:" {
		t.Errorf("DBPath = %q, want :memory:", cfg.Server.DBPath)
	}
	if cfg.Sched.CPUs != 2 {
		t.Errorf("CPUs = %d, want 2", cfg.Sched.CPUs)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Log.Format)
	}
	// Untouched keys keep their defaults.
	if cfg.Log.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for a missing file")
	}
	if !strings.Contains(err.Error(), "read config") {
		t.Errorf("error = %q, want read config prefix", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{Addr: ":8080", DBPath: ":memory:", RateLimit: 10, RateBurst: 20},
			Sched:  SchedConfig{CPUs: 1},
			Log:    LogConfig{Level: "info", Format: "text"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero cpus", func(c *Config) { c.Sched.CPUs = 0 }},
		{"zero rate limit", func(c *Config) { c.Server.RateLimit = 0 }},
		{"zero burst", func(c *Config) { c.Server.RateBurst = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
