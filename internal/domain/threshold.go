package domain

import "time"

// DefaultSegment is the merchant-category key that must always exist in the
// threshold store. It is the fallback for absent or unrecognized categories.
const DefaultSegment = "default"

// ThresholdConfig holds the fraud-flagging threshold for one
// merchant-category segment. Invariant: MinThreshold <= FraudThreshold <= MaxThreshold.
type ThresholdConfig struct {
	ID               string `json:"id,omitempty"`
	MerchantCategory string `json:"merchantCategory"`

	FraudThreshold float64 `json:"fraudThreshold"`

	// DynamicAdjustment enables recalibration for this segment.
	DynamicAdjustment bool `json:"dynamicAdjustment"`

	MinThreshold float64 `json:"minThreshold"`
	MaxThreshold float64 `json:"maxThreshold"`

	// AdaptationRate scales recalibration deltas (learning-rate-like scalar).
	AdaptationRate float64 `json:"adaptationRate"`

	// SampleSizeMinimum is the observed sample count a segment needs in the
	// trailing window before recalibration is allowed.
	SampleSizeMinimum int `json:"sampleSizeMinimum"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ThresholdAdjustment records one recalibration decision for a segment.
type ThresholdAdjustment struct {
	MerchantCategory string    `json:"merchantCategory"`
	OldThreshold     float64   `json:"oldThreshold"`
	NewThreshold     float64   `json:"newThreshold"`
	Reason           string    `json:"reason"`
	Delta            float64   `json:"delta"`
	Applied          bool      `json:"applied"`
	Timestamp        time.Time `json:"timestamp"`
}

// OutcomeStats aggregates predicted-vs-actual fraud outcomes for one segment
// over the trailing evaluation window.
type OutcomeStats struct {
	MerchantCategory string `json:"merchantCategory"`
	SampleCount      int    `json:"sampleCount"`

	// FalsePositives: predicted fraud, actually legitimate.
	FalsePositives int `json:"falsePositives"`
	// ActualNegatives: all actually legitimate outcomes.
	ActualNegatives int `json:"actualNegatives"`
	// FalseNegatives: predicted safe, actually fraud.
	FalseNegatives int `json:"falseNegatives"`
	// ActualPositives: all actually fraudulent outcomes.
	ActualPositives int `json:"actualPositives"`
}

// FalsePositiveRate returns FP / actual negatives, 0 when there are no negatives.
func (s OutcomeStats) FalsePositiveRate() float64 {
	if s.ActualNegatives == 0 {
		return 0
	}
	return float64(s.FalsePositives) / float64(s.ActualNegatives)
}

// FalseNegativeRate returns FN / actual positives, 0 when there are no positives.
func (s OutcomeStats) FalseNegativeRate() float64 {
	if s.ActualPositives == 0 {
		return 0
	}
	return float64(s.FalseNegatives) / float64(s.ActualPositives)
}
