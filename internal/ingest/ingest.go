// Package ingest validates raw transaction records and runs the valid ones
// through the evaluation pipeline. Validation failures are per-record: a bad
// record never aborts its batch.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/pipeline"
)

// maxReportedErrors caps the error messages carried in a batch report.
const maxReportedErrors = 10

// RawRecord is one unvalidated ingestion record, as decoded from JSON.
type RawRecord map[string]any

// Report summarizes one batch ingestion run.
type Report struct {
	Total      int      `json:"total"`
	Success    int      `json:"success"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

// Ingestor runs batches through the pipeline.
type Ingestor struct {
	pipe *pipeline.Pipeline
}

// New creates an ingestor over the given pipeline.
func New(pipe *pipeline.Pipeline) *Ingestor {
	return &Ingestor{pipe: pipe}
}

// IngestBatch validates and evaluates every record. Each valid transaction is
// scored and stored; each invalid record is counted and reported, first ten
// messages only.
func (i *Ingestor) IngestBatch(ctx context.Context, records []RawRecord) *Report {
	start := time.Now()
	report := &Report{Total: len(records)}

	for idx, rec := range records {
		tx, err := ParseRecord(rec)
		if err != nil {
			report.Failed++
			if len(report.Errors) < maxReportedErrors {
				report.Errors = append(report.Errors, fmt.Sprintf("record %d: %v", idx, err))
			}
			continue
		}

		i.pipe.EvaluateAndStore(ctx, tx)
		report.Success++
	}

	report.DurationMs = time.Since(start).Milliseconds()
	return report
}

// ParseRecord validates one raw record and builds a transaction from it.
// Amount and timestamp are required; the remaining fields are optional
// context.
func ParseRecord(rec RawRecord) (*domain.Transaction, error) {
	amount, err := parseAmount(rec["amount"])
	if err != nil {
		return nil, err
	}

	ts, err := parseTimestamp(rec["timestamp"])
	if err != nil {
		return nil, err
	}

	txID := stringField(rec, "transaction_id")
	if txID == "" {
		txID = uuid.New().String()
	}

	tx := &domain.Transaction{
		ID:               uuid.New().String(),
		TransactionID:    txID,
		Amount:           amount,
		Timestamp:        ts,
		Location:         stringField(rec, "location"),
		Merchant:         stringField(rec, "merchant"),
		MerchantCategory: stringField(rec, "merchant_category"),
		DeviceInfo:       stringField(rec, "device_info"),
		IPAddress:        stringField(rec, "ip_address"),
		UserID:           stringField(rec, "user_id"),
		CreatedAt:        time.Now().UTC(),
	}

	// Historical records may carry a confirmed fraud label.
	if raw, ok := rec["is_fraudulent"]; ok {
		flag, err := parseBool(raw)
		if err != nil {
			return nil, err
		}
		tx.IsFraudulent = flag
	}

	return tx, nil
}

func parseAmount(raw any) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, fmt.Errorf("amount is required")
	case float64:
		if v <= 0 {
			return 0, fmt.Errorf("amount must be positive, got %v", v)
		}
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("malformed amount %q", v)
		}
		if f <= 0 {
			return 0, fmt.Errorf("amount must be positive, got %v", f)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("malformed amount of type %T", raw)
	}
}

func parseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("timestamp is required")
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
		}
		return ts.UTC(), nil
	case float64:
		// Epoch seconds.
		return time.Unix(int64(v), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp of type %T", raw)
	}
}

func parseBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("invalid boolean flag %q", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("invalid boolean flag of type %T", raw)
	}
}

func stringField(rec RawRecord, key string) string {
	if v, ok := rec[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// SampleRecords returns a small demo batch covering the main scoring paths.
// Used by the server's seed mode.
func SampleRecords() []RawRecord {
	return []RawRecord{
		{
			"transaction_id":    "demo-001",
			"amount":            45.99,
			"timestamp":         "2025-06-15T14:00:00Z",
			"location":          "Lisbon, PT",
			"merchant":          "Corner Store",
			"merchant_category": "retail",
			"device_info":       "iPhone 15",
			"ip_address":        "192.168.1.5",
		},
		{
			"transaction_id":    "demo-002",
			"amount":            8750.0,
			"timestamp":         "2025-06-15T02:10:00Z",
			"merchant_category": "gambling",
			"device_info":       "Unknown Device",
		},
		{
			"transaction_id":    "demo-003",
			"amount":            15000.0,
			"timestamp":         "2025-06-15T03:30:00Z",
			"merchant_category": "unknown",
		},
		{
			"transaction_id":    "demo-004",
			"amount":            320.50,
			"timestamp":         "2025-06-15T11:45:00Z",
			"location":          "Berlin, DE",
			"merchant":          "Hardware GmbH",
			"merchant_category": "electronics",
			"device_info":       "Pixel 9",
			"ip_address":        "10.0.4.21",
		},
	}
}
