package repository

// Schema definitions for the Harrier run audit store.
// Compatible with both SQLite and PostgreSQL.

// schemaReports holds one row per scoring run. Aggregates that are only ever
// read back whole are stored as JSON text.
const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    source TEXT NOT NULL,
    rule_set_version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    total_records INTEGER NOT NULL,
    claim_count INTEGER NOT NULL,
    flagged_count INTEGER NOT NULL,
    flag_rate REAL,
    max_score INTEGER NOT NULL,
    rule_counts TEXT NOT NULL,
    histogram TEXT NOT NULL,
    thresholds TEXT NOT NULL,
    top_claims TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
CREATE INDEX IF NOT EXISTS idx_reports_fingerprint ON reports(fingerprint);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaReports,
	}
}
