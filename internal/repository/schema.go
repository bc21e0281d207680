package repository

// Schema definitions for Harrier database.
// Compatible with both SQLite and PostgreSQL.

// schemaWatchlistEntries stores normalized list entries. A missing date of
// birth is stored as '' so the uniqueness key stays total.
const schemaWatchlistEntries = `
CREATE TABLE IF NOT EXISTS watchlist_entries (
    source TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    name TEXT NOT NULL,
    aliases TEXT NOT NULL,
    dob TEXT NOT NULL DEFAULT '',
    passport TEXT,
    nationality TEXT,
    address TEXT,
    listing_date TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (source, name, dob)
);

CREATE INDEX IF NOT EXISTS idx_watchlist_entries_source ON watchlist_entries(source);
`

const schemaScreeningResults = `
CREATE TABLE IF NOT EXISTS screening_results (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    entry_source TEXT NOT NULL,
    entry_name TEXT NOT NULL,
    matched_entry TEXT NOT NULL,
    match_score REAL NOT NULL,
    matched_fields TEXT NOT NULL,
    screened_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screening_results_subject ON screening_results(subject_id, screened_at);
CREATE INDEX IF NOT EXISTS idx_screening_results_screened ON screening_results(screened_at);
`

const schemaCyberEvents = `
CREATE TABLE IF NOT EXISTS cyber_events (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    severity TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    source TEXT NOT NULL,
    iocs TEXT NOT NULL,
    raw_iocs TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_cyber_events_subject ON cyber_events(subject_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_cyber_events_detected ON cyber_events(detected_at);
`

const schemaFraudEvents = `
CREATE TABLE IF NOT EXISTS fraud_events (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    risk_score REAL NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    detected_at TIMESTAMP NOT NULL,
    source TEXT NOT NULL,
    iocs TEXT NOT NULL,
    raw_iocs TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fraud_events_subject ON fraud_events(subject_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_fraud_events_detected ON fraud_events(detected_at);
`

// schemaCorrelations is append-only from this service; status is advanced
// by case management.
const schemaCorrelations = `
CREATE TABLE IF NOT EXISTS correlations (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    cyber_event_ref TEXT,
    fraud_event_ref TEXT,
    subject_id TEXT NOT NULL,
    confidence REAL NOT NULL,
    factors TEXT NOT NULL,
    shared_iocs TEXT NOT NULL,
    time_delta_hours REAL,
    recommendation TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_correlations_subject ON correlations(subject_id, created_at);
CREATE INDEX IF NOT EXISTS idx_correlations_created ON correlations(created_at);
CREATE INDEX IF NOT EXISTS idx_correlations_kind ON correlations(kind);
`

const schemaRiskProfiles = `
CREATE TABLE IF NOT EXISTS risk_profiles (
    subject_id TEXT PRIMARY KEY,
    cyber_risk_score REAL NOT NULL,
    fraud_risk_score REAL NOT NULL,
    screening_score REAL NOT NULL,
    composite_risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    last_updated TIMESTAMP NOT NULL,
    factors TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_profiles_level ON risk_profiles(risk_level);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaWatchlistEntries,
		schemaScreeningResults,
		schemaCyberEvents,
		schemaFraudEvents,
		schemaCorrelations,
		schemaRiskProfiles,
	}
}
