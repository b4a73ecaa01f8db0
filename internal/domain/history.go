package domain

import (
	"context"
)

// HistoryStore is the customer-history data source. Lookups are blocking
// I/O against an external, potentially slow dependency; callers must not
// hold exclusive resources across a call.
type HistoryStore interface {
	// LatestByCustomer returns the single most recent history record for
	// the customer, or ErrCustomerNotFound if no record exists. When
	// several records share the maximum timestamp the most recently
	// inserted row wins.
	LatestByCustomer(ctx context.Context, customerID string) (*HistoryRecord, error)

	// SaveRecord appends a history row. Used for seeding and tests.
	SaveRecord(ctx context.Context, rec *HistoryRecord) error

	// Score result persistence
	SaveScore(ctx context.Context, res *ScoreResult) error
	GetScore(ctx context.Context, id string) (*ScoreResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// HistoryConfig holds configuration for history store initialization.
type HistoryConfig struct {
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
	MaxOpenConns int
	MaxIdleConns int
}
