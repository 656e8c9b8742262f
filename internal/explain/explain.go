// Package explain produces feature-attribution explanations for scored
// transactions. All outputs are computed from fixed heuristic tables, not
// from a trained model. The SHAP-like vector and LIME-like factor list use
// their own parameter sets and are intentionally not reconciled with the
// primary feature-importance ranking.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/scoring"
)

// Per-feature importance scalings. Independent values, not a distribution.
const (
	weightAmount          = 0.15
	weightLocation        = 0.12
	weightMerchantRisk    = 0.18
	weightDevice          = 0.10
	weightIP              = 0.15
	weightTimeOfDay       = 0.08
	weightFrequency       = 0.12
	weightAmountDeviation = 0.10
)

const (
	confidenceFloor = 0.3
	confidenceCap   = 0.95

	maxRiskFactors = 5
)

// HighRiskMerchants are category substrings treated as elevated risk by the
// merchant sub-score heuristic. This list is wider than the estimator's and
// is not shared with it.
var HighRiskMerchants = []string{
	"money_transfer",
	"crypto",
	"gambling",
	"dating_services",
	"travel_agencies",
}

// Generator computes explanations. It holds no state; one instance can serve
// any number of concurrent calls.
type Generator struct{}

// NewGenerator returns a ready generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Explain derives the full attribution output for a transaction and the
// fraud score it received. Pure function of its inputs.
func (g *Generator) Explain(tx *domain.Transaction, fraudScore float64) *domain.ExplanationResult {
	importances := g.featureImportances(tx)

	sort.SliceStable(importances, func(i, j int) bool {
		return importances[i].Importance > importances[j].Importance
	})

	var sum float64
	for _, fi := range importances {
		sum += fi.Importance
	}
	confidence := math.Round(math.Min(sum+confidenceFloor, confidenceCap)*1000) / 1000

	return &domain.ExplanationResult{
		TransactionID:      tx.TransactionID,
		ModelPrediction:    fraudScore,
		Confidence:         confidence,
		FeatureImportances: importances,
		ShapValues:         g.shapValues(tx, fraudScore),
		LimeFactors:        g.limeFactors(tx),
		ExplanationText:    g.explanationText(fraudScore, importances),
		RiskFactors:        g.riskFactors(tx, fraudScore),
		SafeFactors:        g.safeFactors(tx),
		CreatedAt:          time.Now().UTC(),
	}
}

// featureImportances applies the sub-score heuristic of each feature and
// scales it by the feature weight.
func (g *Generator) featureImportances(tx *domain.Transaction) []domain.FeatureImportance {
	amountSub := amountSubScore(tx.Amount)
	locationSub := locationSubScore(tx.Location)
	merchantSub := merchantSubScore(tx.MerchantCategory)
	deviceSub := deviceSubScore(tx.DeviceInfo)
	ipSub := ipSubScore(tx.IPAddress)
	timeSub := timeSubScore(tx.Timestamp.Hour())
	frequencySub := frequencySubScore()
	deviationSub := deviationSubScore(tx.Amount)

	return []domain.FeatureImportance{
		{
			Feature:     "amount",
			Importance:  amountSub * weightAmount,
			Impact:      impactAbove(amountSub, 0.7),
			Description: fmt.Sprintf("Transaction amount of %.2f relative to the 10000 reference ceiling", tx.Amount),
		},
		{
			Feature:     "location",
			Importance:  locationSub * weightLocation,
			Impact:      impactAbove(locationSub, 0.5),
			Description: presenceDescription("Location data", tx.Location != ""),
		},
		{
			Feature:     "merchant_category",
			Importance:  merchantSub * weightMerchantRisk,
			Impact:      impactAbove(merchantSub, 0.5),
			Description: merchantDescription(tx.MerchantCategory),
		},
		{
			Feature:     "device",
			Importance:  deviceSub * weightDevice,
			Impact:      impactAbove(deviceSub, 0.5),
			Description: presenceDescription("Device fingerprint", tx.DeviceInfo != ""),
		},
		{
			Feature:     "ip_address",
			Importance:  ipSub * weightIP,
			Impact:      impactAbove(ipSub, 0.5),
			Description: ipDescription(tx.IPAddress),
		},
		{
			Feature:     "time_of_day",
			Importance:  timeSub * weightTimeOfDay,
			Impact:      impactAbove(timeSub, 0.5),
			Description: fmt.Sprintf("Transaction placed at hour %02d", tx.Timestamp.Hour()),
		},
		{
			Feature:     "frequency",
			Importance:  frequencySub * weightFrequency,
			Impact:      impactAbove(frequencySub, 0.5),
			Description: "Transaction frequency baseline (no history window in core scoring)",
		},
		{
			Feature:     "amount_deviation",
			Importance:  deviationSub * weightAmountDeviation,
			Impact:      impactAbove(deviationSub, 0.5),
			Description: fmt.Sprintf("Deviation of %.2f from the 500 typical-amount anchor", math.Abs(tx.Amount-500)),
		},
	}
}

// shapValues builds the synthetic attribution vector. It scales the same
// sub-scores with a second, independent multiplier set; the frequency entry
// tracks the fraud score itself.
func (g *Generator) shapValues(tx *domain.Transaction, fraudScore float64) map[string]float64 {
	return map[string]float64{
		"amount":            amountSubScore(tx.Amount) * 0.3,
		"location":          locationSubScore(tx.Location) * 0.15,
		"merchant_category": merchantSubScore(tx.MerchantCategory) * 0.25,
		"device":            deviceSubScore(tx.DeviceInfo) * 0.15,
		"ip_address":        ipSubScore(tx.IPAddress) * 0.2,
		"time_of_day":       timeSubScore(tx.Timestamp.Hour()) * 0.1,
		"frequency_anomaly": fraudScore * 0.15,
		"amount_deviation":  deviationSubScore(tx.Amount) * 0.1,
	}
}

// limeFactors builds the synthetic weighted-factor list: five fixed features
// with hard-coded weights and sign chosen by a simple per-feature test.
func (g *Generator) limeFactors(tx *domain.Transaction) []domain.WeightedFactor {
	hour := tx.Timestamp.Hour()

	return []domain.WeightedFactor{
		limeFactor("transaction_amount", 0.3,
			fmt.Sprintf("%.2f", tx.Amount), tx.Amount > 5000),
		limeFactor("merchant_category", 0.25,
			valueOr(tx.MerchantCategory, "unknown"),
			scoring.ContainsAny(tx.MerchantCategory, HighRiskMerchants)),
		limeFactor("transaction_time", 0.2,
			fmt.Sprintf("hour %02d", hour), hour < 6 || hour > 22),
		limeFactor("location_presence", 0.15,
			presentOrMissing(tx.Location), tx.Location == ""),
		limeFactor("device_info", 0.1,
			presentOrMissing(tx.DeviceInfo), tx.DeviceInfo == ""),
	}
}

func limeFactor(feature string, weight float64, value string, risky bool) domain.WeightedFactor {
	impact := weight
	if !risky {
		impact = -weight
	}
	return domain.WeightedFactor{
		Feature: feature,
		Weight:  weight,
		Value:   value,
		Impact:  impact,
	}
}

// explanationText renders the risk band, score, top three ranked features
// and a fixed detail block.
func (g *Generator) explanationText(fraudScore float64, importances []domain.FeatureImportance) string {
	var band string
	switch {
	case fraudScore > 0.7:
		band = "HIGH"
	case fraudScore > 0.4:
		band = "MEDIUM"
	default:
		band = "LOW"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s RISK: transaction scored %.2f.\n\nTop contributing factors:\n", band, fraudScore)

	top := importances
	if len(top) > 3 {
		top = top[:3]
	}
	for i, fi := range top {
		fmt.Fprintf(&b, "%d. %s (importance %.3f)\n", i+1, fi.Description, fi.Importance)
	}

	b.WriteString("\nThis assessment is produced by deterministic rule heuristics.\n")
	b.WriteString("Feature attributions are approximations, not model outputs.\n")
	b.WriteString("Flagged transactions should be reviewed before enforcement action.\n")
	b.WriteString("Decision thresholds adapt per merchant category over time.")

	return b.String()
}

// riskFactors scans independent risk conditions, capped at five entries.
func (g *Generator) riskFactors(tx *domain.Transaction, fraudScore float64) []string {
	hour := tx.Timestamp.Hour()

	var factors []string
	add := func(cond bool, text string) {
		if cond && len(factors) < maxRiskFactors {
			factors = append(factors, text)
		}
	}

	add(fraudScore > 0.7, "High fraud score")
	add(tx.Amount > 5000, "Large transaction amount")
	add(tx.Location == "", "Missing location data")
	add(tx.DeviceInfo == "", "Missing device information")
	add(scoring.ContainsAny(tx.MerchantCategory, HighRiskMerchants), "High-risk merchant category")
	add(tx.IPAddress != "" && !privateIP(tx.IPAddress), "IP address outside recognized ranges")
	add(hour < 6 || hour > 22, "Transaction outside normal hours")

	return factors
}

// safeFactors scans independent mitigating conditions. Uncapped.
func (g *Generator) safeFactors(tx *domain.Transaction) []string {
	hour := tx.Timestamp.Hour()

	var factors []string
	add := func(cond bool, text string) {
		if cond {
			factors = append(factors, text)
		}
	}

	add(tx.Location != "", "Location data present")
	add(tx.DeviceInfo != "", "Device information present")
	add(tx.Amount < 1000, "Low transaction amount")
	add(tx.Merchant != "", "Known merchant")
	add(hour >= 8 && hour <= 20, "Normal transaction hours")

	return factors
}

// Sub-score heuristics. Each maps one raw feature to [0, 1].

func amountSubScore(amount float64) float64 {
	return math.Min(amount/10000, 1)
}

func locationSubScore(location string) float64 {
	if location != "" {
		return 0.3
	}
	return 0.7
}

func merchantSubScore(category string) float64 {
	if category == "" {
		return 0.5
	}
	if scoring.ContainsAny(category, HighRiskMerchants) {
		return 0.75
	}
	return 0.3
}

func deviceSubScore(deviceInfo string) float64 {
	if deviceInfo != "" {
		return 0.2
	}
	return 0.8
}

func ipSubScore(ip string) float64 {
	switch {
	case ip == "":
		return 0.6
	case privateIP(ip):
		return 0.1
	default:
		return 0.4
	}
}

func timeSubScore(hour int) float64 {
	switch {
	case hour >= 8 && hour <= 20:
		return 0.2
	case hour >= 6 && hour <= 23:
		return 0.4
	default:
		return 0.8
	}
}

func frequencySubScore() float64 {
	return 0.5
}

func deviationSubScore(amount float64) float64 {
	return math.Min(math.Abs(amount-500)/5000, 1)
}

func privateIP(ip string) bool {
	return strings.HasPrefix(ip, "192.168") || strings.HasPrefix(ip, "10.")
}

func impactAbove(subScore, bar float64) string {
	if subScore > bar {
		return domain.ImpactPositive
	}
	return domain.ImpactNegative
}

func presenceDescription(what string, present bool) string {
	if present {
		return what + " provided with the transaction"
	}
	return what + " missing from the transaction"
}

func merchantDescription(category string) string {
	switch {
	case category == "":
		return "Merchant category not supplied"
	case scoring.ContainsAny(category, HighRiskMerchants):
		return fmt.Sprintf("Merchant category %q is on the elevated-risk list", category)
	default:
		return fmt.Sprintf("Merchant category %q has no elevated-risk marker", category)
	}
}

func ipDescription(ip string) string {
	switch {
	case ip == "":
		return "IP address not supplied"
	case privateIP(ip):
		return "IP address in a private range"
	default:
		return "IP address outside private ranges"
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func presentOrMissing(s string) string {
	if s == "" {
		return "missing"
	}
	return "present"
}
