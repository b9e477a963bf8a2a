package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS behavior_profiles (
    user_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    avg_typing_speed REAL NOT NULL DEFAULT 0,
    keystroke_intervals TEXT NOT NULL,
    typing_error_rate REAL NOT NULL DEFAULT 0,
    avg_movement_speed REAL NOT NULL DEFAULT 0,
    click_pattern TEXT NOT NULL,
    movement_variance REAL NOT NULL DEFAULT 0,
    screen_resolution TEXT,
    browser_signature TEXT,
    os_signature TEXT,
    ip_address TEXT,
    baseline_established INTEGER NOT NULL DEFAULT 0,
    anomaly_threshold REAL NOT NULL DEFAULT 0.15
);

CREATE INDEX IF NOT EXISTS idx_profiles_baseline ON behavior_profiles(baseline_established);
`

const schemaAnomalies = `
CREATE TABLE IF NOT EXISTS anomaly_events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    severity TEXT,
    description TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_anomalies_user ON anomaly_events(user_id);
CREATE INDEX IF NOT EXISTS idx_anomalies_detected ON anomaly_events(user_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_anomalies_type ON anomaly_events(user_id, type);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    security_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    anomalies_count INTEGER NOT NULL DEFAULT 0,
    baseline_established INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_user ON assessments(user_id);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(user_id, timestamp);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProfiles,
		schemaAnomalies,
		schemaAssessments,
		schemaPolicies,
	}
}
