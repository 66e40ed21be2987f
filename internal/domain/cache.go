package domain

import (
	"context"
	"time"
)

// Cache stores run reports keyed by dataset fingerprint.
// Supports a local LRU, Redis, or both in two phases.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetReport retrieves a cached report for a fingerprint.
	// Returns nil, nil on a miss.
	GetReport(ctx context.Context, fingerprint string) (*Report, error)

	// SetReport caches a report under its fingerprint.
	SetReport(ctx context.Context, report *Report, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `mapstructure:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// If true, check local first, then Redis
	EnableTwoPhase bool `mapstructure:"enable_two_phase"`

	// ReportTTL is how long a scored report stays cached.
	ReportTTL time.Duration `mapstructure:"report_ttl"`
}
