// Package config loads daemon configuration from defaults, an optional
// config file and GOTP_* environment variables, in increasing order of
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Sched  SchedConfig  `mapstructure:"sched"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `mapstructure:"addr"`

	// DBPath is the SQLite database path; ":memory:" keeps everything
	// in process (useful in tests).
	DBPath string `mapstructure:"db_path"`

	// RateLimit caps mutating API calls per second; RateBurst is the
	// burst allowance on top.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// SchedConfig holds the scheduling core settings.
type SchedConfig struct {
	// CPUs is the number of virtual CPUs the core schedules.
	CPUs int `mapstructure:"cpus"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// Load builds the configuration. path names a config file to read; when
// empty only defaults and environment variables apply. Every key can be
// overridden with GOTP_<SECTION>_<KEY>, e.g. GOTP_SERVER_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.db_path", defaultDBPath())
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("sched.cpus", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("GOTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Sched.CPUs < 1 {
		return fmt.Errorf("sched.cpus %d must be at least 1", c.Sched.CPUs)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit %v must be positive", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst %d must be at least 1", c.Server.RateBurst)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// defaultDBPath places the database under the user's home directory,
// falling back to the working directory when home is unknown.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "gotp.db"
	}
	return filepath.Join(home, ".gotp", "gotp.db")
}
