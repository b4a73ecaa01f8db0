package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resolver retrieves the most recent history record for a customer,
// optionally memoizing lookups through a cache. Read-only; the record it
// hands to a request never changes for the lifetime of that request.
type Resolver struct {
	store domain.HistoryStore
	cache domain.Cache
	ttl   time.Duration
}

// NewResolver creates a resolver. cache may be nil to disable memoization.
func NewResolver(store domain.HistoryStore, cache domain.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{store: store, cache: cache, ttl: ttl}
}

// Resolve trims the identifier and returns the customer's most recent
// history record, or domain.ErrCustomerNotFound. Cache failures fall
// through to the store; a lookup is never failed by the cache.
func (r *Resolver) Resolve(ctx context.Context, customerID string) (*domain.HistoryRecord, error) {
	customerID = strings.TrimSpace(customerID)
	key := "history:latest:" + customerID

	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, key); err == nil && raw != nil {
			var rec domain.HistoryRecord
			if err := json.Unmarshal(raw, &rec); err == nil {
				return &rec, nil
			}
		}
	}

	rec, err := r.store.LatestByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if raw, err := json.Marshal(rec); err == nil {
			if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
				slog.Warn("failed to cache history record",
					"customer_id", customerID,
					"error", err,
				)
			}
		}
	}

	return rec, nil
}
