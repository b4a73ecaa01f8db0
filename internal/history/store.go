// Package history provides the customer-history data source and the
// context resolver on top of it.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLStore implements domain.HistoryStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new history store based on configuration.
func New(cfg domain.HistoryConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range SchemasFor(s.driver) {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// LatestByCustomer returns the single most recent record for a customer.
// Tie-break on identical timestamps: highest row id (most recently inserted)
// wins, so the result is deterministic.
func (s *SQLStore) LatestByCustomer(ctx context.Context, customerID string) (*domain.HistoryRecord, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerID is required", domain.ErrInvalidRequest)
	}

	query := `
		SELECT id, customer_id, location, payment_method,
			   failed_login_attempts, new_beneficiary_added, unusual_location,
			   time_gap_between_transactions, transaction_frequency_per_day,
			   transaction_datetime
		FROM customer_history
		WHERE customer_id = ?
		ORDER BY transaction_datetime DESC, id DESC
		LIMIT 1
	`

	var rec domain.HistoryRecord
	err := s.db.QueryRowContext(ctx, s.rebind(query), customerID).Scan(
		&rec.ID, &rec.CustomerID, &rec.Location, &rec.PaymentMethod,
		&rec.FailedLoginAttempts, &rec.NewBeneficiaryAdded, &rec.UnusualLocation,
		&rec.TimeGapBetweenTransactions, &rec.TransactionFrequencyPerDay,
		&rec.TransactionDatetime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	return &rec, nil
}

// SaveRecord appends one history row.
func (s *SQLStore) SaveRecord(ctx context.Context, rec *domain.HistoryRecord) error {
	if strings.TrimSpace(rec.CustomerID) == "" {
		return fmt.Errorf("%w: customerID is required", domain.ErrInvalidRequest)
	}

	query := `
		INSERT INTO customer_history (
			customer_id, location, payment_method,
			failed_login_attempts, new_beneficiary_added, unusual_location,
			time_gap_between_transactions, transaction_frequency_per_day,
			transaction_datetime
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		strings.TrimSpace(rec.CustomerID), rec.Location, rec.PaymentMethod,
		rec.FailedLoginAttempts, rec.NewBeneficiaryAdded, rec.UnusualLocation,
		rec.TimeGapBetweenTransactions, rec.TransactionFrequencyPerDay,
		rec.TransactionDatetime,
	)
	return err
}

// SaveScore persists a completed score result.
func (s *SQLStore) SaveScore(ctx context.Context, res *domain.ScoreResult) error {
	topFeatures, _ := json.Marshal(res.TopFeatures)
	metadata, _ := json.Marshal(res.Metadata)

	query := `
		INSERT INTO scores (
			id, customer_id, rule_verdict, model_verdict, class_code,
			top_features, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		res.ID, res.CustomerID, res.RuleVerdict, res.ModelVerdict, res.ClassCode,
		string(topFeatures), res.Timestamp, string(metadata),
	)
	return err
}

// GetScore retrieves a score result by ID.
func (s *SQLStore) GetScore(ctx context.Context, id string) (*domain.ScoreResult, error) {
	query := `
		SELECT id, customer_id, rule_verdict, model_verdict, class_code,
			   top_features, timestamp, metadata
		FROM scores
		WHERE id = ?
	`

	var res domain.ScoreResult
	var topFeatures, metadata string
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&res.ID, &res.CustomerID, &res.RuleVerdict, &res.ModelVerdict, &res.ClassCode,
		&topFeatures, &res.Timestamp, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("score %s: not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query score: %w", err)
	}

	if topFeatures != "" {
		_ = json.Unmarshal([]byte(topFeatures), &res.TopFeatures)
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &res.Metadata)
	}

	return &res, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteString(fmt.Sprintf("$%d", n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

// compile-time interface check
var _ domain.HistoryStore = (*SQLStore)(nil)
