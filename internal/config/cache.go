package config

import (
	"fmt"
	"time"
)

// Default cache timings. Seconds granularity matches the hot tier's TTL unit.
const (
	DefaultWriteInterval = 5 * time.Second
	DefaultTTLClean      = 60 * time.Second
	DefaultTTLDeleted    = 10 * time.Second
)

// CacheConfig holds the hot-updatable cache timings. The manager guards it
// with a mutex and the drainer re-reads it each tick, so a replacement takes
// effect at the next tick boundary.
type CacheConfig struct {
	// WriteInterval is the drainer's tick period.
	WriteInterval Duration `json:"write_interval" yaml:"write_interval"`
	// TTLClean is the lifetime of clean entries.
	TTLClean Duration `json:"ttl_clean" yaml:"ttl_clean"`
	// TTLDeleted is the tombstone lifetime; expiry triggers the database
	// delete.
	TTLDeleted Duration `json:"ttl_deleted" yaml:"ttl_deleted"`
}

// DefaultCacheConfig returns the stock timings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		WriteInterval: Duration(DefaultWriteInterval),
		TTLClean:      Duration(DefaultTTLClean),
		TTLDeleted:    Duration(DefaultTTLDeleted),
	}
}

// Validate rejects a non-positive write interval and TTLs under one second.
func (c CacheConfig) Validate() error {
	if c.WriteInterval.Std() <= 0 {
		return fmt.Errorf("write_interval must be positive, got %s", c.WriteInterval.Std())
	}
	if c.TTLClean.Std() < time.Second {
		return fmt.Errorf("ttl_clean must be at least 1s, got %s", c.TTLClean.Std())
	}
	if c.TTLDeleted.Std() < time.Second {
		return fmt.Errorf("ttl_deleted must be at least 1s, got %s", c.TTLDeleted.Std())
	}
	return nil
}

// ConnConfig holds connection-time settings. Unlike CacheConfig it is
// immutable after construction.
type ConnConfig struct {
	RedisURL        string
	ConnectAttempts int
	ConnectBackoff  Duration
}
