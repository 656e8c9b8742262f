// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction, replacing any previous record with
// the same business identifier so re-evaluations update in place.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	query := `
		INSERT INTO transactions (
			id, transaction_id, amount, timestamp, location, merchant,
			merchant_category, device_info, ip_address, fraud_score,
			is_fraudulent, detection_reason, created_at, user_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			amount = excluded.amount,
			timestamp = excluded.timestamp,
			location = excluded.location,
			merchant = excluded.merchant,
			merchant_category = excluded.merchant_category,
			device_info = excluded.device_info,
			ip_address = excluded.ip_address,
			fraud_score = excluded.fraud_score,
			is_fraudulent = excluded.is_fraudulent,
			detection_reason = excluded.detection_reason
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.TransactionID, tx.Amount, tx.Timestamp,
		tx.Location, tx.Merchant, tx.MerchantCategory,
		tx.DeviceInfo, tx.IPAddress,
		tx.FraudScore, boolToInt(tx.IsFraudulent), tx.DetectionReason,
		tx.CreatedAt, tx.UserID,
	)
	return err
}

// GetTransaction retrieves a transaction by its business identifier.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, transaction_id, amount, timestamp, location, merchant,
			   merchant_category, device_info, ip_address, fraud_score,
			   is_fraudulent, detection_reason, created_at, user_id
		FROM transactions
		WHERE transaction_id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListTransactions retrieves recent transactions, newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, since time.Time, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, transaction_id, amount, timestamp, location, merchant,
			   merchant_category, device_info, ip_address, fraud_score,
			   is_fraudulent, detection_reason, created_at, user_id
		FROM transactions
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var location, merchant, category, device, ip, reason, userID sql.NullString
	var fraudulent int

	err := row.Scan(
		&tx.ID, &tx.TransactionID, &tx.Amount, &tx.Timestamp,
		&location, &merchant, &category, &device, &ip,
		&tx.FraudScore, &fraudulent, &reason,
		&tx.CreatedAt, &userID,
	)
	if err != nil {
		return nil, err
	}

	tx.Location = location.String
	tx.Merchant = merchant.String
	tx.MerchantCategory = category.String
	tx.DeviceInfo = device.String
	tx.IPAddress = ip.String
	tx.DetectionReason = reason.String
	tx.UserID = userID.String
	tx.IsFraudulent = fraudulent == 1

	return &tx, nil
}

// SaveThresholdConfig upserts a segment configuration, keyed by category.
func (r *SQLRepository) SaveThresholdConfig(ctx context.Context, cfg *domain.ThresholdConfig) error {
	if cfg.MerchantCategory == "" {
		return fmt.Errorf("%w: merchant_category is required", ErrInvalidInput)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO threshold_configs (
			id, merchant_category, fraud_threshold, dynamic_adjustment,
			min_threshold, max_threshold, adaptation_rate, sample_size_minimum,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_category) DO UPDATE SET
			fraud_threshold = excluded.fraud_threshold,
			dynamic_adjustment = excluded.dynamic_adjustment,
			min_threshold = excluded.min_threshold,
			max_threshold = excluded.max_threshold,
			adaptation_rate = excluded.adaptation_rate,
			sample_size_minimum = excluded.sample_size_minimum,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.ID, cfg.MerchantCategory, cfg.FraudThreshold, boolToInt(cfg.DynamicAdjustment),
		cfg.MinThreshold, cfg.MaxThreshold, cfg.AdaptationRate, cfg.SampleSizeMinimum,
		createdAt, now,
	)
	return err
}

// ListThresholdConfigs retrieves all segment configurations.
func (r *SQLRepository) ListThresholdConfigs(ctx context.Context) ([]*domain.ThresholdConfig, error) {
	query := `
		SELECT id, merchant_category, fraud_threshold, dynamic_adjustment,
			   min_threshold, max_threshold, adaptation_rate, sample_size_minimum,
			   created_at, updated_at
		FROM threshold_configs
		ORDER BY merchant_category
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ThresholdConfig
	for rows.Next() {
		var cfg domain.ThresholdConfig
		var dynamic int

		if err := rows.Scan(
			&cfg.ID, &cfg.MerchantCategory, &cfg.FraudThreshold, &dynamic,
			&cfg.MinThreshold, &cfg.MaxThreshold, &cfg.AdaptationRate, &cfg.SampleSizeMinimum,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.DynamicAdjustment = dynamic == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveComplianceEvent stores one classifier event.
func (r *SQLRepository) SaveComplianceEvent(ctx context.Context, ev *domain.ComplianceEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	details, _ := json.Marshal(ev.ViolationDetails)

	query := `
		INSERT INTO compliance_events (
			id, event_type, severity, transaction_id, compliance_standard,
			violation_details, resolution_status, resolution_notes,
			created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, ev.EventType, string(ev.Severity), ev.TransactionID, ev.ComplianceStandard,
		string(details), ev.ResolutionStatus, ev.ResolutionNotes,
		ev.CreatedAt, ev.ResolvedAt,
	)
	return err
}

// GetComplianceEvent retrieves one event by ID.
func (r *SQLRepository) GetComplianceEvent(ctx context.Context, id string) (*domain.ComplianceEvent, error) {
	query := `
		SELECT id, event_type, severity, transaction_id, compliance_standard,
			   violation_details, resolution_status, resolution_notes,
			   created_at, resolved_at
		FROM compliance_events
		WHERE id = ?
	`

	ev, err := scanComplianceEvent(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

// ListComplianceEvents retrieves events matching the filter, newest first.
func (r *SQLRepository) ListComplianceEvents(ctx context.Context, filter domain.ComplianceFilter) ([]*domain.ComplianceEvent, error) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "resolution_status = ?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since)
	}

	query := `
		SELECT id, event_type, severity, transaction_id, compliance_standard,
			   violation_details, resolution_status, resolution_notes,
			   created_at, resolved_at
		FROM compliance_events
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.ComplianceEvent
	for rows.Next() {
		ev, err := scanComplianceEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

func scanComplianceEvent(row rowScanner) (*domain.ComplianceEvent, error) {
	var ev domain.ComplianceEvent
	var severity string
	var details, notes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&ev.ID, &ev.EventType, &severity, &ev.TransactionID, &ev.ComplianceStandard,
		&details, &ev.ResolutionStatus, &notes,
		&ev.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Severity = domain.Severity(severity)
	ev.ResolutionNotes = notes.String
	if details.Valid && details.String != "" {
		json.Unmarshal([]byte(details.String), &ev.ViolationDetails)
	}
	if resolvedAt.Valid {
		ev.ResolvedAt = &resolvedAt.Time
	}

	return &ev, nil
}

// ResolveComplianceEvent marks an event resolved with reviewer notes.
func (r *SQLRepository) ResolveComplianceEvent(ctx context.Context, id string, notes string, resolvedAt time.Time) error {
	query := `
		UPDATE compliance_events
		SET resolution_status = ?, resolution_notes = ?, resolved_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.ResolutionResolved, notes, resolvedAt, id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveExplanation stores an explanation log and its per-feature rows.
// Re-explaining a transaction replaces both.
func (r *SQLRepository) SaveExplanation(ctx context.Context, ex *domain.ExplanationResult) error {
	if ex.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}

	shapValues, _ := json.Marshal(ex.ShapValues)
	featureImportance, _ := json.Marshal(ex.FeatureImportances)
	limeExplanation, _ := json.Marshal(ex.LimeFactors)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	logQuery := `
		INSERT INTO explainability_logs (
			id, transaction_id, model_prediction, prediction_confidence,
			shap_values, feature_importance, explanation_text, lime_explanation,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			model_prediction = excluded.model_prediction,
			prediction_confidence = excluded.prediction_confidence,
			shap_values = excluded.shap_values,
			feature_importance = excluded.feature_importance,
			explanation_text = excluded.explanation_text,
			lime_explanation = excluded.lime_explanation,
			created_at = excluded.created_at
	`

	if _, err := dbTx.ExecContext(ctx, r.rebind(logQuery),
		uuid.New().String(), ex.TransactionID, ex.ModelPrediction, ex.Confidence,
		string(shapValues), string(featureImportance), ex.ExplanationText, string(limeExplanation),
		ex.CreatedAt,
	); err != nil {
		return err
	}

	if _, err := dbTx.ExecContext(ctx,
		r.rebind(`DELETE FROM feature_importance WHERE transaction_id = ?`),
		ex.TransactionID,
	); err != nil {
		return err
	}

	rowQuery := `
		INSERT INTO feature_importance (
			id, transaction_id, feature, importance, impact, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, fi := range ex.FeatureImportances {
		if _, err := dbTx.ExecContext(ctx, r.rebind(rowQuery),
			uuid.New().String(), ex.TransactionID,
			fi.Feature, fi.Importance, fi.Impact, fi.Description,
			ex.CreatedAt,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetExplanation retrieves the explanation log for a transaction.
func (r *SQLRepository) GetExplanation(ctx context.Context, txID string) (*domain.ExplanationResult, error) {
	query := `
		SELECT transaction_id, model_prediction, prediction_confidence,
			   shap_values, feature_importance, explanation_text, lime_explanation,
			   created_at
		FROM explainability_logs
		WHERE transaction_id = ?
	`

	var ex domain.ExplanationResult
	var shapValues, featureImportance, limeExplanation, text sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&ex.TransactionID, &ex.ModelPrediction, &ex.Confidence,
		&shapValues, &featureImportance, &text, &limeExplanation,
		&ex.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ex.ExplanationText = text.String
	if shapValues.Valid {
		json.Unmarshal([]byte(shapValues.String), &ex.ShapValues)
	}
	if featureImportance.Valid {
		json.Unmarshal([]byte(featureImportance.String), &ex.FeatureImportances)
	}
	if limeExplanation.Valid {
		json.Unmarshal([]byte(limeExplanation.String), &ex.LimeFactors)
	}

	return &ex, nil
}

// SaveCustomRule upserts a custom scoring rule.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, rule *domain.CustomRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO custom_rules (
			id, name, expression, weight, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			expression = excluded.expression,
			weight = excluded.weight,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Expression, rule.Weight, rule.Reason,
		boolToInt(rule.Enabled), createdAt, now,
	)
	return err
}

// ListCustomRules retrieves all custom rules, enabled or not.
func (r *SQLRepository) ListCustomRules(ctx context.Context) ([]*domain.CustomRule, error) {
	query := `
		SELECT id, name, expression, weight, reason, enabled, created_at, updated_at
		FROM custom_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRule
	for rows.Next() {
		var rule domain.CustomRule
		var reason sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Expression, &rule.Weight, &reason,
			&enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Reason = reason.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveOutcome stores one confirmed fraud label.
func (r *SQLRepository) SaveOutcome(ctx context.Context, outcome *domain.TransactionOutcome) error {
	if outcome.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transaction_outcomes (
			id, transaction_id, merchant_category, predicted_fraud, actual_fraud, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		outcome.ID, outcome.TransactionID, outcome.MerchantCategory,
		boolToInt(outcome.PredictedFraud), boolToInt(outcome.ActualFraud),
		outcome.CreatedAt,
	)
	return err
}

// GetOutcomeStats aggregates predicted-vs-actual counts per segment since the
// given time.
func (r *SQLRepository) GetOutcomeStats(ctx context.Context, since time.Time) ([]domain.OutcomeStats, error) {
	query := `
		SELECT merchant_category,
			   COUNT(*),
			   SUM(CASE WHEN predicted_fraud = 1 AND actual_fraud = 0 THEN 1 ELSE 0 END),
			   SUM(CASE WHEN actual_fraud = 0 THEN 1 ELSE 0 END),
			   SUM(CASE WHEN predicted_fraud = 0 AND actual_fraud = 1 THEN 1 ELSE 0 END),
			   SUM(CASE WHEN actual_fraud = 1 THEN 1 ELSE 0 END)
		FROM transaction_outcomes
		WHERE created_at >= ?
		GROUP BY merchant_category
		ORDER BY merchant_category
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.OutcomeStats
	for rows.Next() {
		var s domain.OutcomeStats
		if err := rows.Scan(
			&s.MerchantCategory, &s.SampleCount,
			&s.FalsePositives, &s.ActualNegatives,
			&s.FalseNegatives, &s.ActualPositives,
		); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
