package domain

import (
	"strings"
	"time"
)

// Transaction represents one financial transfer under evaluation.
// Optional fields (location, merchant, device, IP) are empty strings when absent.
type Transaction struct {
	// Row identifier (surrogate key)
	ID string `json:"id"`

	// Business identifier supplied by the caller or generated at ingestion
	TransactionID string `json:"transactionId"`

	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`

	// Optional context
	Location         string `json:"location,omitempty"`
	Merchant         string `json:"merchant,omitempty"`
	MerchantCategory string `json:"merchantCategory,omitempty"`
	DeviceInfo       string `json:"deviceInfo,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"`

	// Derived by scoring; zero until the transaction is evaluated
	FraudScore      float64 `json:"fraudScore"`
	IsFraudulent    bool    `json:"isFraudulent"`
	DetectionReason string  `json:"detectionReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId,omitempty"`
}

// ScoreResult is the output of the fraud score estimator.
type ScoreResult struct {
	// FraudScore is the capped sum of triggered rule weights, in [0,1].
	FraudScore float64 `json:"fraudScore"`

	// IsFraudulent is decided against the fixed module cutoff (score > 0.5).
	// The threshold store supplies the segment-aware decision used downstream.
	IsFraudulent bool `json:"isFraudulent"`

	// Reasons lists triggered rule names in evaluation order.
	Reasons []string `json:"reasons"`
}

// Reason joins the triggered rule names into the persisted detection_reason text.
func (r ScoreResult) Reason() string {
	return strings.Join(r.Reasons, ", ")
}

// RiskLevel is the ordinal classification derived from the distance
// between a fraud score and its segment threshold.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Evaluation is the complete result of running one transaction through the pipeline.
type Evaluation struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`

	Score ScoreResult `json:"score"`

	// Segment-aware decision from the threshold store for the
	// transaction's merchant category.
	IsFraudulent bool      `json:"isFraudulent"`
	RiskLevel    RiskLevel `json:"riskLevel"`
	Threshold    float64   `json:"threshold"`

	Explanation      *ExplanationResult `json:"explanation,omitempty"`
	ComplianceEvents []ComplianceEvent  `json:"complianceEvents,omitempty"`

	Timestamp time.Time          `json:"timestamp"`
	Metadata  EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	ScoreMs       int64  `json:"scoreMs"`
	ExplainMs     int64  `json:"explainMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// TransactionOutcome is a confirmed fraud label for a scored transaction,
// used to recalibrate segment thresholds.
type TransactionOutcome struct {
	ID               string    `json:"id"`
	TransactionID    string    `json:"transactionId"`
	MerchantCategory string    `json:"merchantCategory"`
	PredictedFraud   bool      `json:"predictedFraud"`
	ActualFraud      bool      `json:"actualFraud"`
	CreatedAt        time.Time `json:"createdAt"`
}
