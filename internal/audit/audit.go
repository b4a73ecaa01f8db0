// Package audit appends one line per scored request to a log file.
package audit

import (
	"fmt"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Logger writes append-only audit lines. The file is opened O_APPEND and
// every record is a single Write call, so concurrent writers stay
// line-safe and nothing is ever rewritten in place.
type Logger struct {
	f *os.File
}

// Open opens (or creates) the audit log at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Logger{f: f}, nil
}

// Record appends one audit line: timestamp, customer identifier, rule
// verdict and model verdict.
func (l *Logger) Record(ts time.Time, customerID, ruleVerdict, modelVerdict string) error {
	line := fmt.Sprintf("[%s] Customer: %s | Rule: %s | ML: %s\n",
		ts.UTC().Format(time.RFC3339), customerID, ruleVerdict, modelVerdict)
	_, err := l.f.WriteString(line)
	return err
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	return l.f.Close()
}

// compile-time interface check
var _ domain.AuditLogger = (*Logger)(nil)
