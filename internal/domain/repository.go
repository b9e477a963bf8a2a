// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. The behavioral core
// operates fully in memory; the repository is a durability collaborator and
// may be absent (nil) without affecting event processing.
type Repository interface {
	// Profile snapshots
	SaveProfile(ctx context.Context, profile *BehaviorProfile) error
	GetProfile(ctx context.Context, userID string) (*BehaviorProfile, error)
	ListProfiles(ctx context.Context) ([]*BehaviorProfile, error)

	// Anomaly events
	SaveAnomaly(ctx context.Context, anomaly *Anomaly) error
	ListAnomalies(ctx context.Context, userID string, since time.Time) ([]*Anomaly, error)

	// Assessment history
	SaveAssessment(ctx context.Context, assessment *SecurityAssessment) error
	ListAssessments(ctx context.Context, userID string, since time.Time) ([]*SecurityAssessment, error)

	// Access policy configuration
	SavePolicy(ctx context.Context, policy *PolicyConfig) error
	GetPolicy(ctx context.Context, policyID string) (*PolicyConfig, error)
	ListPolicies(ctx context.Context) ([]*PolicyConfig, error)
	DeletePolicy(ctx context.Context, policyID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
