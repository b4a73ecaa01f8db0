package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	store, err := New(domain.HistoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testRecord(customerID string, ts time.Time) *domain.HistoryRecord {
	return &domain.HistoryRecord{
		CustomerID:                 customerID,
		Location:                   "New York",
		PaymentMethod:              "Credit Card",
		FailedLoginAttempts:        1,
		NewBeneficiaryAdded:        0,
		UnusualLocation:            0,
		TimeGapBetweenTransactions: 2.5,
		TransactionFrequencyPerDay: 4.0,
		TransactionDatetime:        ts,
	}
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndLookup", func(t *testing.T) {
		ts := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
		if err := store.SaveRecord(ctx, testRecord("CUST001", ts)); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}

		rec, err := store.LatestByCustomer(ctx, "CUST001")
		if err != nil {
			t.Fatalf("LatestByCustomer failed: %v", err)
		}
		if rec.CustomerID != "CUST001" {
			t.Errorf("expected CUST001, got %s", rec.CustomerID)
		}
		if rec.Location != "New York" {
			t.Errorf("expected New York, got %s", rec.Location)
		}
		if !rec.TransactionDatetime.Equal(ts) {
			t.Errorf("expected timestamp %v, got %v", ts, rec.TransactionDatetime)
		}
	})

	t.Run("LatestWins", func(t *testing.T) {
		older := testRecord("CUST002", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		newer := testRecord("CUST002", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
		newer.Location = "London"

		// Insert newest first so row order does not mask the timestamp sort.
		if err := store.SaveRecord(ctx, newer); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
		if err := store.SaveRecord(ctx, older); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}

		rec, err := store.LatestByCustomer(ctx, "CUST002")
		if err != nil {
			t.Fatalf("LatestByCustomer failed: %v", err)
		}
		if rec.Location != "London" {
			t.Errorf("expected most recent record (London), got %s", rec.Location)
		}
	})

	t.Run("TimestampTieBreaksOnRowID", func(t *testing.T) {
		ts := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
		first := testRecord("CUST003", ts)
		second := testRecord("CUST003", ts)
		second.Location = "London"

		if err := store.SaveRecord(ctx, first); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
		if err := store.SaveRecord(ctx, second); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}

		rec, err := store.LatestByCustomer(ctx, "CUST003")
		if err != nil {
			t.Fatalf("LatestByCustomer failed: %v", err)
		}
		if rec.Location != "London" {
			t.Errorf("expected most recently inserted record, got %s", rec.Location)
		}
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		_, err := store.LatestByCustomer(ctx, "NOSUCH")
		if !errors.Is(err, domain.ErrCustomerNotFound) {
			t.Errorf("expected ErrCustomerNotFound, got %v", err)
		}
	})

	t.Run("TrimsCustomerID", func(t *testing.T) {
		rec, err := store.LatestByCustomer(ctx, "  CUST001  ")
		if err != nil {
			t.Fatalf("LatestByCustomer failed: %v", err)
		}
		if rec.CustomerID != "CUST001" {
			t.Errorf("expected CUST001, got %s", rec.CustomerID)
		}
	})

	t.Run("EmptyCustomerID", func(t *testing.T) {
		_, err := store.LatestByCustomer(ctx, "   ")
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestScorePersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := &domain.ScoreResult{
		ID:           "score-001",
		CustomerID:   "CUST001",
		RuleVerdict:  domain.VerdictAPPFraud,
		ModelVerdict: domain.VerdictNone,
		ClassCode:    0,
		TopFeatures: []domain.Attribution{
			{Feature: "transaction_amount", Magnitude: 0.42},
		},
		Timestamp: time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC),
		Metadata:  domain.ScoreMetadata{EngineVersion: "kestrel-1.0", TotalMs: 12},
	}

	if err := store.SaveScore(ctx, res); err != nil {
		t.Fatalf("SaveScore failed: %v", err)
	}

	got, err := store.GetScore(ctx, "score-001")
	if err != nil {
		t.Fatalf("GetScore failed: %v", err)
	}
	if got.RuleVerdict != domain.VerdictAPPFraud {
		t.Errorf("expected rule verdict %q, got %q", domain.VerdictAPPFraud, got.RuleVerdict)
	}
	if len(got.TopFeatures) != 1 || got.TopFeatures[0].Feature != "transaction_amount" {
		t.Errorf("top features not round-tripped: %+v", got.TopFeatures)
	}
	if got.Metadata.EngineVersion != "kestrel-1.0" {
		t.Errorf("metadata not round-tripped: %+v", got.Metadata)
	}

	if _, err := store.GetScore(ctx, "nope"); err == nil {
		t.Error("expected error for unknown score id")
	}
}

func TestResolver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
	if err := store.SaveRecord(ctx, testRecord("CUST001", ts)); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	t.Run("WithoutCache", func(t *testing.T) {
		resolver := NewResolver(store, nil, time.Minute)

		rec, err := resolver.Resolve(ctx, " CUST001 ")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if rec.CustomerID != "CUST001" {
			t.Errorf("expected CUST001, got %s", rec.CustomerID)
		}
	})

	t.Run("CachesLookups", func(t *testing.T) {
		c := cache.NewLRUCache(10)
		resolver := NewResolver(store, c, time.Minute)

		if _, err := resolver.Resolve(ctx, "CUST001"); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}

		raw, err := c.Get(ctx, "history:latest:CUST001")
		if err != nil || raw == nil {
			t.Fatalf("expected cached record after resolve, got raw=%v err=%v", raw, err)
		}

		// Second resolve is served from cache.
		rec, err := resolver.Resolve(ctx, "CUST001")
		if err != nil {
			t.Fatalf("cached Resolve failed: %v", err)
		}
		if rec.Location != "New York" {
			t.Errorf("unexpected cached record: %+v", rec)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		resolver := NewResolver(store, nil, time.Minute)
		_, err := resolver.Resolve(ctx, "NOSUCH")
		if !errors.Is(err, domain.ErrCustomerNotFound) {
			t.Errorf("expected ErrCustomerNotFound, got %v", err)
		}
	})
}
