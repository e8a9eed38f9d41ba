package repository

// Schema definitions for Turnstile database.
// Timestamps are stored as Unix milliseconds so both drivers read them back
// identically.

// schemaTapRecordsSQLite relies on INTEGER PRIMARY KEY AUTOINCREMENT for
// insertion order.
const schemaTapRecordsSQLite = `
CREATE TABLE IF NOT EXISTS tap_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    fingerprint TEXT NOT NULL,
    terminal_id TEXT NOT NULL,
    cryptogram TEXT,
    tap_time_ms INTEGER NOT NULL,
    direction TEXT NOT NULL,
    approved INTEGER NOT NULL,
    matched_exit_time_ms INTEGER,
    created_at_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tap_records_open_entries
    ON tap_records(fingerprint, direction, approved, tap_time_ms);
`

const schemaTapRecordsPostgres = `
CREATE TABLE IF NOT EXISTS tap_records (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    fingerprint TEXT NOT NULL,
    terminal_id TEXT NOT NULL,
    cryptogram TEXT,
    tap_time_ms BIGINT NOT NULL,
    direction TEXT NOT NULL,
    approved INTEGER NOT NULL,
    matched_exit_time_ms BIGINT,
    created_at_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tap_records_open_entries
    ON tap_records(fingerprint, direction, approved, tap_time_ms);
`

const schemaDenylist = `
CREATE TABLE IF NOT EXISTS denylist (
    fingerprint TEXT PRIMARY KEY,
    added_at_ms BIGINT NOT NULL
);
`

const schemaSeenCards = `
CREATE TABLE IF NOT EXISTS seen_cards (
    fingerprint TEXT PRIMARY KEY,
    first_seen_at_ms BIGINT NOT NULL
);
`

// AllSchemas returns all schema statements in order for the given driver.
func AllSchemas(driver string) []string {
	taps := schemaTapRecordsSQLite
	if driver == "postgres" {
		taps = schemaTapRecordsPostgres
	}
	return []string{
		taps,
		schemaDenylist,
		schemaSeenCards,
	}
}
