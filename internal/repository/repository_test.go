package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kite-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			TransactionID:    "tx-001",
			Amount:           8750,
			Timestamp:        time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC),
			MerchantCategory: "gambling",
			DeviceInfo:       "Unknown Device",
			FraudScore:       0.55,
			IsFraudulent:     true,
			DetectionReason:  "Unusual transaction amount, High-risk merchant category",
			CreatedAt:        time.Now().UTC(),
			UserID:           "user-1",
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.Amount != tx.Amount {
			t.Errorf("expected amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if !retrieved.IsFraudulent {
			t.Error("expected fraudulent flag to round-trip")
		}
		if retrieved.DetectionReason != tx.DetectionReason {
			t.Errorf("detection reason mismatch: %q", retrieved.DetectionReason)
		}
		if retrieved.Location != "" {
			t.Errorf("expected empty location, got %q", retrieved.Location)
		}
	})

	t.Run("SaveTransactionUpsertsByBusinessID", func(t *testing.T) {
		tx := &domain.Transaction{
			TransactionID: "tx-upsert",
			Amount:        100,
			Timestamp:     time.Now().UTC(),
			CreatedAt:     time.Now().UTC(),
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("first save failed: %v", err)
		}

		tx.ID = ""
		tx.FraudScore = 0.3
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("second save failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, "tx-upsert")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.FraudScore != 0.3 {
			t.Errorf("expected updated score 0.3, got %.2f", retrieved.FraudScore)
		}
	})

	t.Run("GetTransactionNotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListTransactions", func(t *testing.T) {
		base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			tx := &domain.Transaction{
				TransactionID: "tx-list-" + string(rune('a'+i)),
				Amount:        float64(100 * (i + 1)),
				Timestamp:     base.Add(time.Duration(i) * time.Hour),
				CreatedAt:     time.Now().UTC(),
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("save %d failed: %v", i, err)
			}
		}

		list, err := repo.ListTransactions(ctx, base, 2)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(list))
		}
		if list[0].Timestamp.Before(list[1].Timestamp) {
			t.Error("expected newest-first ordering")
		}
	})
}

func TestThresholdConfigRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := &domain.ThresholdConfig{
		MerchantCategory:  "gambling",
		FraudThreshold:    0.40,
		DynamicAdjustment: true,
		MinThreshold:      0.25,
		MaxThreshold:      0.70,
		AdaptationRate:    0.08,
		SampleSizeMinimum: 30,
	}

	if err := repo.SaveThresholdConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveThresholdConfig failed: %v", err)
	}

	// Upsert on the same category updates in place.
	cfg.FraudThreshold = 0.45
	if err := repo.SaveThresholdConfig(ctx, cfg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	configs, err := repo.ListThresholdConfigs(ctx)
	if err != nil {
		t.Fatalf("ListThresholdConfigs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}
	got := configs[0]
	if got.FraudThreshold != 0.45 {
		t.Errorf("threshold %.2f, want 0.45", got.FraudThreshold)
	}
	if !got.DynamicAdjustment {
		t.Error("dynamic adjustment flag lost")
	}
	if got.SampleSizeMinimum != 30 {
		t.Errorf("sample minimum %d, want 30", got.SampleSizeMinimum)
	}
}

func TestComplianceEventLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ev := &domain.ComplianceEvent{
		ID:                 "ev-001",
		EventType:          domain.EventHighValueTransaction,
		Severity:           domain.SeverityHigh,
		TransactionID:      "tx-001",
		ComplianceStandard: domain.StandardAMLKYC,
		ViolationDetails:   map[string]any{"amount": 15000.0},
		ResolutionStatus:   domain.ResolutionPending,
		CreatedAt:          time.Now().UTC().Add(-time.Hour),
	}

	if err := repo.SaveComplianceEvent(ctx, ev); err != nil {
		t.Fatalf("SaveComplianceEvent failed: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetComplianceEvent(ctx, "ev-001")
		if err != nil {
			t.Fatalf("GetComplianceEvent failed: %v", err)
		}
		if got.Severity != domain.SeverityHigh {
			t.Errorf("severity %s", got.Severity)
		}
		if got.ViolationDetails["amount"] != 15000.0 {
			t.Errorf("details %v", got.ViolationDetails)
		}
		if got.ResolvedAt != nil {
			t.Error("expected nil resolved_at on pending event")
		}
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		pending, err := repo.ListComplianceEvents(ctx, domain.ComplianceFilter{
			Status: domain.ResolutionPending,
		})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("expected 1 pending event, got %d", len(pending))
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		resolvedAt := time.Now().UTC()
		if err := repo.ResolveComplianceEvent(ctx, "ev-001", "reviewed, legitimate", resolvedAt); err != nil {
			t.Fatalf("ResolveComplianceEvent failed: %v", err)
		}

		got, err := repo.GetComplianceEvent(ctx, "ev-001")
		if err != nil {
			t.Fatalf("get after resolve failed: %v", err)
		}
		if !got.Resolved() {
			t.Error("expected resolved status")
		}
		if got.ResolvedAt == nil {
			t.Error("expected resolved_at to be set")
		}
		if got.ResolutionNotes != "reviewed, legitimate" {
			t.Errorf("notes %q", got.ResolutionNotes)
		}
	})

	t.Run("ResolveMissing", func(t *testing.T) {
		err := repo.ResolveComplianceEvent(ctx, "no-such-event", "", time.Now().UTC())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestExplanationRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ex := &domain.ExplanationResult{
		TransactionID:   "tx-001",
		ModelPrediction: 0.8,
		Confidence:      0.95,
		FeatureImportances: []domain.FeatureImportance{
			{Feature: "merchant_category", Importance: 0.135, Impact: domain.ImpactPositive, Description: "elevated risk"},
			{Feature: "amount", Importance: 0.131, Impact: domain.ImpactPositive, Description: "large amount"},
		},
		ShapValues:      map[string]float64{"amount": 0.26, "frequency_anomaly": 0.12},
		LimeFactors:     []domain.WeightedFactor{{Feature: "transaction_amount", Weight: 0.3, Value: "8750.00", Impact: 0.3}},
		ExplanationText: "HIGH RISK: transaction scored 0.80.",
		RiskFactors:     []string{"High fraud score"},
		CreatedAt:       time.Now().UTC(),
	}

	if err := repo.SaveExplanation(ctx, ex); err != nil {
		t.Fatalf("SaveExplanation failed: %v", err)
	}

	got, err := repo.GetExplanation(ctx, "tx-001")
	if err != nil {
		t.Fatalf("GetExplanation failed: %v", err)
	}

	if got.Confidence != 0.95 {
		t.Errorf("confidence %.3f", got.Confidence)
	}
	if len(got.FeatureImportances) != 2 {
		t.Fatalf("expected 2 importances, got %d", len(got.FeatureImportances))
	}
	if got.FeatureImportances[0].Feature != "merchant_category" {
		t.Errorf("feature order lost: %q", got.FeatureImportances[0].Feature)
	}
	if got.ShapValues["frequency_anomaly"] != 0.12 {
		t.Errorf("shap values %v", got.ShapValues)
	}
	if len(got.LimeFactors) != 1 || got.LimeFactors[0].Impact != 0.3 {
		t.Errorf("lime factors %v", got.LimeFactors)
	}

	// Saving again replaces rather than duplicates.
	ex.Confidence = 0.9
	if err := repo.SaveExplanation(ctx, ex); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	got, err = repo.GetExplanation(ctx, "tx-001")
	if err != nil {
		t.Fatalf("get after re-save failed: %v", err)
	}
	if got.Confidence != 0.9 {
		t.Errorf("expected updated confidence 0.9, got %.2f", got.Confidence)
	}

	if _, err := repo.GetExplanation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCustomRuleRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.CustomRule{
		ID:         "rule-1",
		Name:       "Missing device high value",
		Expression: "!has_device && amount > 2000.0",
		Weight:     0.15,
		Reason:     "High value without device fingerprint",
		Enabled:    true,
	}

	if err := repo.SaveCustomRule(ctx, rule); err != nil {
		t.Fatalf("SaveCustomRule failed: %v", err)
	}

	rule.Enabled = false
	if err := repo.SaveCustomRule(ctx, rule); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rules, err := repo.ListCustomRules(ctx)
	if err != nil {
		t.Fatalf("ListCustomRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Enabled {
		t.Error("expected rule disabled after upsert")
	}
	if rules[0].Expression != rule.Expression {
		t.Errorf("expression %q", rules[0].Expression)
	}
}

func TestOutcomeStatsAggregation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	save := func(category string, predicted, actual bool, at time.Time) {
		t.Helper()
		err := repo.SaveOutcome(ctx, &domain.TransactionOutcome{
			TransactionID:    "tx-" + category,
			MerchantCategory: category,
			PredictedFraud:   predicted,
			ActualFraud:      actual,
			CreatedAt:        at,
		})
		if err != nil {
			t.Fatalf("SaveOutcome failed: %v", err)
		}
	}

	// retail: 2 false positives, 1 true negative, 1 false negative, 1 true positive.
	save("retail", true, false, now)
	save("retail", true, false, now)
	save("retail", false, false, now)
	save("retail", false, true, now)
	save("retail", true, true, now)
	// An old record outside the window.
	save("retail", true, false, now.Add(-60*24*time.Hour))
	// Another segment.
	save("gambling", false, true, now)

	stats, err := repo.GetOutcomeStats(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("GetOutcomeStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(stats))
	}

	var retail domain.OutcomeStats
	for _, s := range stats {
		if s.MerchantCategory == "retail" {
			retail = s
		}
	}

	if retail.SampleCount != 5 {
		t.Errorf("sample count %d, want 5", retail.SampleCount)
	}
	if retail.FalsePositives != 2 {
		t.Errorf("false positives %d, want 2", retail.FalsePositives)
	}
	if retail.ActualNegatives != 3 {
		t.Errorf("actual negatives %d, want 3", retail.ActualNegatives)
	}
	if retail.FalseNegatives != 1 {
		t.Errorf("false negatives %d, want 1", retail.FalseNegatives)
	}
	if retail.ActualPositives != 2 {
		t.Errorf("actual positives %d, want 2", retail.ActualPositives)
	}
}
