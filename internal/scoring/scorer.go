// Package scoring implements the rule-based fraud score estimator.
package scoring

import (
	"context"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// Fixed rule weights. These are module constants, not configurable per call.
const (
	weightUnusualAmount    = 0.30
	weightAbnormalTiming   = 0.25
	weightHighRiskCategory = 0.25
	weightVeryHighValue    = 0.20
)

// Rule trigger limits.
const (
	unusualAmountLimit = 5000
	veryHighValueLimit = 10000

	// fraudCutoff is the fixed module-level decision boundary. The threshold
	// store provides the segment-aware decision used downstream.
	fraudCutoff = 0.5
)

// Detection reasons, one per built-in rule.
const (
	ReasonUnusualAmount    = "Unusual transaction amount"
	ReasonAbnormalTiming   = "Abnormal transaction timing"
	ReasonHighRiskCategory = "High-risk merchant category"
	ReasonVeryHighValue    = "Very high transaction value"
	ReasonNormal           = "Normal transaction pattern"
)

// HighRiskCategories are the merchant-category substrings that trigger the
// high-risk category rule.
var HighRiskCategories = []string{"gambling", "luxury", "crypto"}

// Estimator computes fraud scores from fixed additive rules, optionally
// extended with operator-defined CEL rules.
type Estimator struct {
	// Now supplies the evaluation clock for the abnormal-timing rule.
	// The rule reads the wall-clock hour at evaluation time, not the
	// transaction's own timestamp.
	Now func() time.Time

	// Custom, when set, contributes additional additive rule hits.
	Custom *CustomEngine
}

// NewEstimator creates an estimator using the system clock.
func NewEstimator() *Estimator {
	return &Estimator{Now: time.Now}
}

// Score evaluates all rules against the transaction and returns the capped
// additive score with the list of triggered reasons. Pure except for the clock.
func (e *Estimator) Score(ctx context.Context, tx *domain.Transaction) domain.ScoreResult {
	var score float64
	var reasons []string

	if tx.Amount > unusualAmountLimit {
		score += weightUnusualAmount
		reasons = append(reasons, ReasonUnusualAmount)
	}

	hour := e.Now().Hour()
	if hour >= 0 && hour <= 4 {
		score += weightAbnormalTiming
		reasons = append(reasons, ReasonAbnormalTiming)
	}

	if ContainsAny(tx.MerchantCategory, HighRiskCategories) {
		score += weightHighRiskCategory
		reasons = append(reasons, ReasonHighRiskCategory)
	}

	if tx.Amount > veryHighValueLimit {
		score += weightVeryHighValue
		reasons = append(reasons, ReasonVeryHighValue)
	}

	if e.Custom != nil {
		for _, hit := range e.Custom.Evaluate(ctx, tx) {
			score += hit.Weight
			reasons = append(reasons, hit.Reason)
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	if len(reasons) == 0 {
		reasons = []string{ReasonNormal}
	}

	return domain.ScoreResult{
		FraudScore:   score,
		IsFraudulent: score > fraudCutoff,
		Reasons:      reasons,
	}
}
