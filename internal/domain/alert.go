package domain

import (
	"time"
)

// Alert is the notification emitted when a scored request indicates fraud.
type Alert struct {
	CustomerID string    `json:"customerId"`
	FraudType  string    `json:"fraudType"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertDispatcher delivers alerts off the request's critical path.
// Dispatch must never block request handling; delivery failures are
// recorded and swallowed.
type AlertDispatcher interface {
	Dispatch(alert Alert)
	Close() error
}

// AuditLogger appends one line per successfully scored request.
type AuditLogger interface {
	Record(ts time.Time, customerID, ruleVerdict, modelVerdict string) error
}

// AlertConfig holds alert dispatch settings.
type AlertConfig struct {
	// QueueSize bounds the in-flight alert queue. When full, new alerts
	// are dropped and logged rather than blocking the caller.
	QueueSize int

	// DispatchTimeout caps a single delivery attempt so a slow
	// notification dependency cannot stall the dispatch loop.
	DispatchTimeout time.Duration
}
