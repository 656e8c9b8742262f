package repository

// Schema definitions for the Kite database.
// Compatible with both SQLite and PostgreSQL. Column names match the
// persisted schema consumed by existing dashboards, so they must not change.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    amount REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    location TEXT,
    merchant TEXT,
    merchant_category TEXT,
    device_info TEXT,
    ip_address TEXT,
    fraud_score REAL NOT NULL DEFAULT 0,
    is_fraudulent INTEGER NOT NULL DEFAULT 0,
    detection_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    user_id TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_tx_id ON transactions(transaction_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(merchant_category);
CREATE INDEX IF NOT EXISTS idx_transactions_fraud ON transactions(is_fraudulent);
`

const schemaThresholdConfigs = `
CREATE TABLE IF NOT EXISTS threshold_configs (
    id TEXT PRIMARY KEY,
    merchant_category TEXT NOT NULL UNIQUE,
    fraud_threshold REAL NOT NULL,
    dynamic_adjustment INTEGER NOT NULL DEFAULT 1,
    min_threshold REAL NOT NULL,
    max_threshold REAL NOT NULL,
    adaptation_rate REAL NOT NULL,
    sample_size_minimum INTEGER NOT NULL DEFAULT 50,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaComplianceEvents = `
CREATE TABLE IF NOT EXISTS compliance_events (
    id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    compliance_standard TEXT NOT NULL,
    violation_details TEXT,
    resolution_status TEXT NOT NULL DEFAULT 'pending',
    resolution_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_compliance_events_tx ON compliance_events(transaction_id);
CREATE INDEX IF NOT EXISTS idx_compliance_events_status ON compliance_events(resolution_status);
CREATE INDEX IF NOT EXISTS idx_compliance_events_severity ON compliance_events(severity);
CREATE INDEX IF NOT EXISTS idx_compliance_events_created ON compliance_events(created_at);
`

const schemaExplainabilityLogs = `
CREATE TABLE IF NOT EXISTS explainability_logs (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL UNIQUE,
    model_prediction REAL NOT NULL,
    prediction_confidence REAL NOT NULL,
    shap_values TEXT,
    feature_importance TEXT,
    explanation_text TEXT,
    lime_explanation TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaFeatureImportance = `
CREATE TABLE IF NOT EXISTS feature_importance (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    feature TEXT NOT NULL,
    importance REAL NOT NULL,
    impact TEXT NOT NULL,
    description TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feature_importance_tx ON feature_importance(transaction_id);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight REAL NOT NULL,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaTransactionOutcomes = `
CREATE TABLE IF NOT EXISTS transaction_outcomes (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    merchant_category TEXT NOT NULL,
    predicted_fraud INTEGER NOT NULL,
    actual_fraud INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_category ON transaction_outcomes(merchant_category);
CREATE INDEX IF NOT EXISTS idx_outcomes_created ON transaction_outcomes(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaThresholdConfigs,
		schemaComplianceEvents,
		schemaExplainabilityLogs,
		schemaFeatureImportance,
		schemaCustomRules,
		schemaTransactionOutcomes,
	}
}
