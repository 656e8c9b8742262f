package domain

import "time"

// Severity is the ordered severity of a compliance event: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity (-1 for unknown values).
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Compliance standards covered by the classifier and aggregator.
const (
	StandardPCIDSS = "PCI-DSS"
	StandardGDPR   = "GDPR"
	StandardAMLKYC = "AML-KYC"
	StandardSOX    = "SOX"
	StandardHIPAA  = "HIPAA"
	StandardCCPA   = "CCPA"
)

// Standards lists the fixed standard names, in coverage-report order.
func Standards() []string {
	return []string{StandardPCIDSS, StandardGDPR, StandardAMLKYC, StandardSOX, StandardHIPAA, StandardCCPA}
}

// Compliance event types emitted by the classifier.
const (
	EventFraudThresholdExceeded = "fraud_detection_threshold_exceeded"
	EventHighValueTransaction   = "high_value_transaction"
	EventIncompleteData         = "incomplete_transaction_data"
	EventHighRiskTransaction    = "high_risk_transaction_detected"
	EventUnusualTime            = "unusual_transaction_time"
)

// Resolution status values.
const (
	ResolutionPending  = "pending"
	ResolutionResolved = "resolved"
)

// ComplianceEvent records a detected policy or regulatory condition,
// independent of whether the transaction is ultimately judged fraudulent.
// Mutated exactly once, by Resolve.
type ComplianceEvent struct {
	ID                 string         `json:"id"`
	EventType          string         `json:"eventType"`
	Severity           Severity       `json:"severity"`
	TransactionID      string         `json:"transactionId"`
	ComplianceStandard string         `json:"complianceStandard"`
	ViolationDetails   map[string]any `json:"violationDetails,omitempty"`
	ResolutionStatus   string         `json:"resolutionStatus"`
	ResolutionNotes    string         `json:"resolutionNotes,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	ResolvedAt         *time.Time     `json:"resolvedAt,omitempty"`
}

// Resolved reports whether the event has been resolved.
func (e *ComplianceEvent) Resolved() bool {
	return e.ResolutionStatus == ResolutionResolved
}

// ComplianceSummary holds windowed compliance metrics for reporting.
type ComplianceSummary struct {
	TotalEvents            int            `json:"totalEvents"`
	CriticalEvents         int            `json:"criticalEvents"`
	UnresolvedEvents       int            `json:"unresolvedEvents"`
	ResolutionRate         float64        `json:"resolutionRate"`
	AvgResolutionTimeHours float64        `json:"avgResolutionTimeHours"`
	StandardCoverage       map[string]int `json:"standardCoverage"`
}
