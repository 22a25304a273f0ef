// Package config loads the startup configuration from defaults, an
// optional JSON file, command-line flags, and environment overrides, in
// that order. The result is immutable after Load and is freely read by
// all tasks without synchronization.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// RateLimitConfig configures the per-IP token buckets.
type RateLimitConfig struct {
	Capacity       float64 `json:"capacity"`
	RefillRate     float64 `json:"refill_rate"`
	IdleTTLSeconds int     `json:"idle_ttl_seconds"`
}

// CacheConfig configures the static resource layer. An empty Dir
// disables it.
type CacheConfig struct {
	Dir        string `json:"dir"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Config holds all application configuration.
type Config struct {
	Host                string          `json:"host"`
	Port                int             `json:"port"`
	WorkerThreads       int             `json:"worker_threads"`
	MaxConnections      int             `json:"max_connections"`
	MaxRequestBytes     int             `json:"max_request_bytes"`
	IdleTimeoutSeconds  int             `json:"idle_timeout_seconds"`
	DrainTimeoutSeconds int             `json:"drain_timeout_seconds"`
	RateLimit           RateLimitConfig `json:"rate_limit"`
	Cache               CacheConfig     `json:"cache"`
	Env                 string          `json:"env"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Host:                "127.0.0.1",
		Port:                8080,
		WorkerThreads:       0, // 0 = runtime default
		MaxConnections:      10000,
		MaxRequestBytes:     1 << 20,
		IdleTimeoutSeconds:  10,
		DrainTimeoutSeconds: 15,
		RateLimit: RateLimitConfig{
			Capacity:       100,
			RefillRate:     50,
			IdleTTLSeconds: 300,
		},
		Cache: CacheConfig{
			TTLSeconds: 60,
		},
		Env: "development",
	}
}

// Load builds the configuration. args are the command-line arguments
// without the program name; pass nil to skip flag parsing.
func Load(args []string) (*Config, error) {
	cfg := Default()

	// A -config flag names a JSON file applied before the remaining
	// flags so flags win over the file.
	if file := peekConfigFlag(args); file != "" {
		if err := cfg.loadFile(file); err != nil {
			return nil, err
		}
	}

	if args != nil {
		if err := cfg.parseFlags(args); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	if cfg.MaxRequestBytes <= 0 {
		return nil, fmt.Errorf("config: max_request_bytes must be positive")
	}
	return cfg, nil
}

// Addr returns the host:port bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IdleTimeout returns the read/idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// DrainTimeout returns the graceful-shutdown window as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// CacheTTL returns the static cache entry TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RateLimitIdleTTL returns the bucket prune TTL as a duration.
func (c *Config) RateLimitIdleTTL() time.Duration {
	return time.Duration(c.RateLimit.IdleTTLSeconds) * time.Second
}

func (c *Config) loadFile(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", file, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", file, err)
	}
	return nil
}

func (c *Config) parseFlags(args []string) error {
	fs := newFlagSet(c)
	return fs.Parse(args)
}

// applyEnv applies environment overrides; they win over file and flags
// so deployments can retune without editing either.
func (c *Config) applyEnv() {
	if v := os.Getenv("SURGE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("SURGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("SURGE_STATIC_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("SURGE_ENV"); v != "" {
		c.Env = v
	}
}

// peekConfigFlag finds -config <file> or -config=<file> without
// consuming the other flags.
func peekConfigFlag(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(arg) > 8 && (arg[:8] == "-config=" || (len(arg) > 9 && arg[:9] == "--config=")):
			if arg[:8] == "-config=" {
				return arg[8:]
			}
			return arg[9:]
		}
	}
	return ""
}
