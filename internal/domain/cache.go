package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Keys are scoped per user.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, userID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, userID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, userID string, key string) error

	// GetAssessment retrieves a cached security assessment.
	// Returns nil, nil if none is cached.
	GetAssessment(ctx context.Context, userID string) (*SecurityAssessment, error)

	// SetAssessment caches a computed security assessment.
	SetAssessment(ctx context.Context, userID string, assessment *SecurityAssessment, ttl time.Duration) error

	// InvalidateAssessment drops the cached assessment after new
	// behavioral data arrives for the user.
	InvalidateAssessment(ctx context.Context, userID string) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for per-user ingest accounting.
	IncrementCounter(ctx context.Context, userID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
