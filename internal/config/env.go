// Package config handles environment-based configuration loading, the
// hot-updatable cache timings, and resource definitions.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	DataDir string

	// Network
	ListenAddress string
	Port          int

	// Hot tier
	RedisURL             string
	RedisConnectAttempts int
	RedisConnectBackoff  time.Duration

	// Cache timings (initial values; hot-swappable afterwards)
	WriteInterval time.Duration
	TTLClean      time.Duration
	TTLDeleted    time.Duration

	// Resources
	ResourcesFile string

	// Audit
	AuditSchedule string

	// API
	AdminToken      string
	APIMaxBodyBytes int
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error listing every invalid or missing value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.DataDir = envStr("SILT_DATA_DIR", "/var/lib/silt")
	cfg.ListenAddress = strings.TrimSpace(envStr("SILT_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("SILT_PORT", 2470, &errs)

	cfg.RedisURL = envStr("SILT_REDIS_URL", "redis://127.0.0.1/")
	cfg.RedisConnectAttempts = envInt("SILT_REDIS_CONNECT_ATTEMPTS", 6, &errs)
	cfg.RedisConnectBackoff = envDuration("SILT_REDIS_CONNECT_BACKOFF", 10*time.Second, &errs)

	cfg.WriteInterval = envDuration("SILT_WRITE_INTERVAL", DefaultWriteInterval, &errs)
	cfg.TTLClean = envDuration("SILT_TTL_CLEAN", DefaultTTLClean, &errs)
	cfg.TTLDeleted = envDuration("SILT_TTL_DELETED", DefaultTTLDeleted, &errs)

	cfg.ResourcesFile = envStr("SILT_RESOURCES_FILE", "")
	cfg.AuditSchedule = envStr("SILT_AUDIT_SCHEDULE", "")

	cfg.AdminToken = envStr("SILT_ADMIN_TOKEN", "")
	cfg.APIMaxBodyBytes = envInt("SILT_API_MAX_BODY_BYTES", 1<<20, &errs)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SILT_PORT: %d out of range", cfg.Port))
	}
	if cfg.AdminToken != "" && IsWeakToken(cfg.AdminToken) {
		errs = append(errs, "SILT_ADMIN_TOKEN: token is too weak, use a longer random value")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// CacheConfig returns the initial hot-swappable timings.
func (c *EnvConfig) CacheConfig() CacheConfig {
	return CacheConfig{
		WriteInterval: Duration(c.WriteInterval),
		TTLClean:      Duration(c.TTLClean),
		TTLDeleted:    Duration(c.TTLDeleted),
	}
}

// ConnConfig returns the immutable hot-tier connection settings.
func (c *EnvConfig) ConnConfig() ConnConfig {
	return ConnConfig{
		RedisURL:        c.RedisURL,
		ConnectAttempts: c.RedisConnectAttempts,
		ConnectBackoff:  Duration(c.RedisConnectBackoff),
	}
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]string) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: not an integer: %q", key, v))
		return def
	}
	return n
}

func envDuration(key string, def time.Duration, errs *[]string) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: not a duration: %q", key, v))
		return def
	}
	return d
}
