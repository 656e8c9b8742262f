package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// fixedClock returns an estimator whose evaluation clock is pinned to the
// given hour, keeping the abnormal-timing rule deterministic.
func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 6, 15, hour, 30, 0, 0, time.UTC)
	}
}

func TestScoreNormalTransaction(t *testing.T) {
	est := NewEstimator()
	est.Now = fixedClock(14)

	tx := &domain.Transaction{
		TransactionID:    "tx-001",
		Amount:           45.99,
		MerchantCategory: "retail",
		Location:         "Lisbon, PT",
		DeviceInfo:       "iPhone 15",
		Timestamp:        time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC),
	}

	result := est.Score(context.Background(), tx)

	if result.FraudScore != 0 {
		t.Errorf("expected score 0, got %.2f", result.FraudScore)
	}
	if result.IsFraudulent {
		t.Error("expected non-fraudulent")
	}
	if len(result.Reasons) != 1 || result.Reasons[0] != ReasonNormal {
		t.Errorf("expected single reason %q, got %v", ReasonNormal, result.Reasons)
	}
}

func TestScoreRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		amount     float64
		category   string
		hour       int
		wantScore  float64
		wantReason string
	}{
		{"UnusualAmount", 5000.01, "retail", 12, 0.30, ReasonUnusualAmount},
		{"AbnormalTiming", 100, "retail", 3, 0.25, ReasonAbnormalTiming},
		{"HighRiskCategory", 100, "online_gambling", 12, 0.25, ReasonHighRiskCategory},
		{"LuxuryCategory", 100, "Luxury Goods", 12, 0.25, ReasonHighRiskCategory},
		{"CryptoCategory", 100, "crypto_exchange", 12, 0.25, ReasonHighRiskCategory},
		{"AmountAtBoundary", 5000, "retail", 12, 0, ReasonNormal},
		{"HourAtUpperBoundary", 100, "retail", 4, 0.25, ReasonAbnormalTiming},
		{"HourJustOutside", 100, "retail", 5, 0, ReasonNormal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			est := NewEstimator()
			est.Now = fixedClock(tc.hour)

			result := est.Score(ctx, &domain.Transaction{
				Amount:           tc.amount,
				MerchantCategory: tc.category,
			})

			if math.Abs(result.FraudScore-tc.wantScore) > 1e-9 {
				t.Errorf("expected score %.2f, got %.2f", tc.wantScore, result.FraudScore)
			}
			if result.Reasons[0] != tc.wantReason {
				t.Errorf("expected reason %q, got %q", tc.wantReason, result.Reasons[0])
			}
		})
	}
}

func TestScoreAdditiveAndCapped(t *testing.T) {
	est := NewEstimator()
	est.Now = fixedClock(2) // timing rule triggers

	// All four rules trigger: 0.30 + 0.25 + 0.25 + 0.20 = 1.00
	tx := &domain.Transaction{
		Amount:           20000,
		MerchantCategory: "crypto",
	}

	result := est.Score(context.Background(), tx)

	if result.FraudScore != 1.0 {
		t.Errorf("expected capped score 1.0, got %.4f", result.FraudScore)
	}
	if !result.IsFraudulent {
		t.Error("expected fraudulent at capped score")
	}
	if len(result.Reasons) != 4 {
		t.Errorf("expected 4 reasons, got %d: %v", len(result.Reasons), result.Reasons)
	}
}

func TestScoreGamblingScenario(t *testing.T) {
	// amount=8750, category=gambling, daytime: 0.30 + 0.25 = 0.55 > 0.5
	est := NewEstimator()
	est.Now = fixedClock(15)

	tx := &domain.Transaction{
		Amount:           8750,
		MerchantCategory: "gambling",
		DeviceInfo:       "Unknown Device",
	}

	result := est.Score(context.Background(), tx)

	if result.FraudScore < 0.55 {
		t.Errorf("expected score >= 0.55, got %.2f", result.FraudScore)
	}
	if !result.IsFraudulent {
		t.Error("expected fraudulent decision at module cutoff")
	}

	found := map[string]bool{}
	for _, r := range result.Reasons {
		found[r] = true
	}
	if !found[ReasonUnusualAmount] || !found[ReasonHighRiskCategory] {
		t.Errorf("expected amount and category reasons, got %v", result.Reasons)
	}
}

func TestScoreRangeInvariant(t *testing.T) {
	est := NewEstimator()
	est.Now = fixedClock(1)

	amounts := []float64{0, 1, 4999, 5001, 9999.99, 10001, 75000, 1e9}
	categories := []string{"", "retail", "gambling", "luxury travel", "CRYPTO"}

	for _, a := range amounts {
		for _, c := range categories {
			result := est.Score(context.Background(), &domain.Transaction{Amount: a, MerchantCategory: c})
			if result.FraudScore < 0 || result.FraudScore > 1 {
				t.Fatalf("score out of range for amount=%.2f category=%q: %.4f", a, c, result.FraudScore)
			}
		}
	}
}

func TestContainsAny(t *testing.T) {
	tests := []struct {
		s       string
		needles []string
		want    bool
	}{
		{"gambling", HighRiskCategories, true},
		{"Online-Gambling", HighRiskCategories, true},
		{"LUXURY goods", HighRiskCategories, true},
		{"cryptocurrency", HighRiskCategories, true},
		{"retail", HighRiskCategories, false},
		{"", HighRiskCategories, false},
		{"grocery", nil, false},
	}

	for _, tc := range tests {
		if got := ContainsAny(tc.s, tc.needles); got != tc.want {
			t.Errorf("ContainsAny(%q) = %v, want %v", tc.s, got, tc.want)
		}
	}
}
