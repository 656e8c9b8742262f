package domain

import "time"

// Impact polarity for feature importances.
const (
	ImpactPositive = "positive"
	ImpactNegative = "negative"
)

// FeatureImportance is one entry of the ranked per-feature attribution list.
type FeatureImportance struct {
	Feature     string  `json:"feature"`
	Importance  float64 `json:"importance"`
	Impact      string  `json:"impact"` // "positive" or "negative"
	Description string  `json:"description"`
}

// WeightedFactor is one entry of the LIME-like weighted-factor list.
// Impact carries the sign; its magnitude equals the fixed factor weight.
type WeightedFactor struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
	Value   string  `json:"value"`
	Impact  float64 `json:"impact"`
}

// ExplanationResult holds the full attribution output for one (transaction, score) pair.
// The SHAP-like vector and LIME-like list are independently parameterized
// secondary outputs; they are not reconciled with FeatureImportances.
type ExplanationResult struct {
	TransactionID string `json:"transactionId"`

	// ModelPrediction equals the fraud score the explanation was computed for.
	ModelPrediction float64 `json:"modelPrediction"`
	Confidence      float64 `json:"confidence"`

	// FeatureImportances is sorted descending by importance.
	FeatureImportances []FeatureImportance `json:"featureImportances"`

	// ShapValues maps feature key to signed contribution.
	ShapValues map[string]float64 `json:"shapValues"`

	// LimeFactors is the ranked weighted-factor list.
	LimeFactors []WeightedFactor `json:"limeFactors"`

	ExplanationText string   `json:"explanationText"`
	RiskFactors     []string `json:"riskFactors"` // capped at 5
	SafeFactors     []string `json:"safeFactors"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}
