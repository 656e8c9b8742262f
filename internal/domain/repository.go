// Package domain defines the core types and interfaces for Kite.
package domain

import (
	"context"
	"time"
)

// ComplianceFilter narrows compliance event listings.
// Zero values mean "no constraint".
type ComplianceFilter struct {
	Status   string
	Severity Severity
	Since    time.Time
	Limit    int
}

// Repository defines the interface for data persistence.
// All writes in the scoring path are fire-and-forget from the caller's point
// of view: a failure is logged and never invalidates an in-memory result.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, since time.Time, limit int) ([]*Transaction, error)

	// Threshold configuration operations
	SaveThresholdConfig(ctx context.Context, cfg *ThresholdConfig) error
	ListThresholdConfigs(ctx context.Context) ([]*ThresholdConfig, error)

	// Compliance event operations
	SaveComplianceEvent(ctx context.Context, ev *ComplianceEvent) error
	GetComplianceEvent(ctx context.Context, id string) (*ComplianceEvent, error)
	ListComplianceEvents(ctx context.Context, filter ComplianceFilter) ([]*ComplianceEvent, error)
	ResolveComplianceEvent(ctx context.Context, id string, notes string, resolvedAt time.Time) error

	// Explanation operations
	SaveExplanation(ctx context.Context, ex *ExplanationResult) error
	GetExplanation(ctx context.Context, txID string) (*ExplanationResult, error)

	// Custom scoring rules
	SaveCustomRule(ctx context.Context, rule *CustomRule) error
	ListCustomRules(ctx context.Context) ([]*CustomRule, error)

	// Outcome feedback for threshold recalibration
	SaveOutcome(ctx context.Context, outcome *TransactionOutcome) error
	GetOutcomeStats(ctx context.Context, since time.Time) ([]OutcomeStats, error)

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
