// Package compliance detects regulatory violation conditions on scored
// transactions and aggregates the resulting events into report metrics.
package compliance

import (
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
)

// Classifier rule constants.
const (
	fraudEventScore = 0.7

	highValueLimit     = 10000
	criticalValueLimit = 50000

	earlyHourBound = 6
	lateHourBound  = 23
)

// Classifier runs independent compliance rule checks. Each rule appends zero
// or one event, so one transaction can trigger several. Rules are total over
// their inputs: a missing optional field is a violation trigger, never an
// error.
type Classifier struct{}

// NewClassifier returns a ready classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify evaluates every rule against the transaction, its fraud score and
// the risk level the threshold store assigned. All events start pending.
func (c *Classifier) Classify(tx *domain.Transaction, fraudScore float64, riskLevel domain.RiskLevel) []*domain.ComplianceEvent {
	now := time.Now().UTC()
	var events []*domain.ComplianceEvent

	emit := func(eventType string, severity domain.Severity, standard string, details map[string]any) {
		events = append(events, &domain.ComplianceEvent{
			ID:                 uuid.New().String(),
			EventType:          eventType,
			Severity:           severity,
			TransactionID:      tx.TransactionID,
			ComplianceStandard: standard,
			ViolationDetails:   details,
			ResolutionStatus:   domain.ResolutionPending,
			CreatedAt:          now,
		})
	}

	if fraudScore > fraudEventScore {
		emit(domain.EventFraudThresholdExceeded, domain.SeverityHigh, domain.StandardAMLKYC,
			map[string]any{
				"fraud_score": fraudScore,
				"threshold":   fraudEventScore,
			})
	}

	if tx.Amount > highValueLimit {
		severity := domain.SeverityHigh
		if tx.Amount > criticalValueLimit {
			severity = domain.SeverityCritical
		}
		emit(domain.EventHighValueTransaction, severity, domain.StandardAMLKYC,
			map[string]any{
				"amount": tx.Amount,
				"limit":  float64(highValueLimit),
			})
	}

	if tx.Location == "" || tx.DeviceInfo == "" {
		var missing []string
		if tx.Location == "" {
			missing = append(missing, "location")
		}
		if tx.DeviceInfo == "" {
			missing = append(missing, "device_info")
		}
		emit(domain.EventIncompleteData, domain.SeverityMedium, domain.StandardPCIDSS,
			map[string]any{"missing_fields": missing})
	}

	if riskLevel == domain.RiskHigh || riskLevel == domain.RiskCritical {
		severity := domain.SeverityHigh
		if riskLevel == domain.RiskCritical {
			severity = domain.SeverityCritical
		}
		emit(domain.EventHighRiskTransaction, severity, domain.StandardGDPR,
			map[string]any{"risk_level": string(riskLevel)})
	}

	// Uses the transaction's own timestamp, unlike the estimator's timing
	// rule which reads the evaluation clock with different bounds.
	if hour := tx.Timestamp.Hour(); hour < earlyHourBound || hour > lateHourBound {
		emit(domain.EventUnusualTime, domain.SeverityLow, domain.StandardAMLKYC,
			map[string]any{"hour": hour})
	}

	return events
}
