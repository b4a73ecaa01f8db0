package history

import "fmt"

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCustomerHistory = `
CREATE TABLE IF NOT EXISTS customer_history (
    id %s,
    customer_id TEXT NOT NULL,
    location TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    failed_login_attempts INTEGER NOT NULL DEFAULT 0,
    new_beneficiary_added INTEGER NOT NULL DEFAULT 0,
    unusual_location INTEGER NOT NULL DEFAULT 0,
    time_gap_between_transactions REAL NOT NULL DEFAULT 0,
    transaction_frequency_per_day REAL NOT NULL DEFAULT 0,
    transaction_datetime TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_customer ON customer_history(customer_id);
CREATE INDEX IF NOT EXISTS idx_history_customer_ts ON customer_history(customer_id, transaction_datetime);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS scores (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    rule_verdict TEXT NOT NULL,
    model_verdict TEXT NOT NULL,
    class_code INTEGER NOT NULL,
    top_features TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_scores_customer ON scores(customer_id);
`

// SchemasFor returns all schema statements for a driver in creation order.
// The history row id is auto-assigned: rowid alias on SQLite, BIGSERIAL
// on PostgreSQL. Insertion order is what breaks timestamp ties.
func SchemasFor(driver string) []string {
	idColumn := "INTEGER PRIMARY KEY"
	if driver == "postgres" {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		fmt.Sprintf(schemaCustomerHistory, idColumn),
		schemaScores,
	}
}
