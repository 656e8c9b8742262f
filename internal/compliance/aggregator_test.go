package compliance

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)

	if summary.TotalEvents != 0 || summary.ResolutionRate != 0 || summary.AvgResolutionTimeHours != 0 {
		t.Errorf("expected zeroed summary, got %+v", summary)
	}

	if len(summary.StandardCoverage) != 6 {
		t.Fatalf("expected 6 zero-filled standards, got %d", len(summary.StandardCoverage))
	}
	for _, std := range domain.Standards() {
		if n, ok := summary.StandardCoverage[std]; !ok || n != 0 {
			t.Errorf("standard %s: expected zero-filled entry, got %d (present=%v)", std, n, ok)
		}
	}
}

func TestSummarizeRatesAndCounts(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// 10 events: 4 critical, 6 resolved.
	var events []*domain.ComplianceEvent
	for i := 0; i < 10; i++ {
		ev := &domain.ComplianceEvent{
			ID:                 fmt.Sprintf("ev-%d", i),
			EventType:          domain.EventHighValueTransaction,
			Severity:           domain.SeverityHigh,
			ComplianceStandard: domain.StandardAMLKYC,
			ResolutionStatus:   domain.ResolutionPending,
			CreatedAt:          created,
		}
		if i < 4 {
			ev.Severity = domain.SeverityCritical
		}
		if i < 6 {
			resolvedAt := created.Add(time.Duration(i+1) * time.Hour)
			ev.ResolutionStatus = domain.ResolutionResolved
			ev.ResolvedAt = &resolvedAt
		}
		events = append(events, ev)
	}

	summary := Summarize(events)

	if summary.TotalEvents != 10 {
		t.Errorf("total %d, want 10", summary.TotalEvents)
	}
	if summary.CriticalEvents != 4 {
		t.Errorf("critical %d, want 4", summary.CriticalEvents)
	}
	if summary.UnresolvedEvents != 4 {
		t.Errorf("unresolved %d, want 4", summary.UnresolvedEvents)
	}
	if math.Abs(summary.ResolutionRate-0.6) > 1e-9 {
		t.Errorf("resolution rate %.2f, want 0.60", summary.ResolutionRate)
	}
	// Resolution times 1..6 hours, mean 3.5.
	if math.Abs(summary.AvgResolutionTimeHours-3.5) > 1e-9 {
		t.Errorf("avg resolution hours %.2f, want 3.50", summary.AvgResolutionTimeHours)
	}
	if summary.StandardCoverage[domain.StandardAMLKYC] != 10 {
		t.Errorf("AML-KYC coverage %d, want 10", summary.StandardCoverage[domain.StandardAMLKYC])
	}
	if summary.StandardCoverage[domain.StandardHIPAA] != 0 {
		t.Errorf("HIPAA coverage %d, want 0", summary.StandardCoverage[domain.StandardHIPAA])
	}
}

func TestSummarizeIgnoresInvalidResolutionDurations(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	before := created.Add(-time.Hour)
	after := created.Add(2 * time.Hour)

	events := []*domain.ComplianceEvent{
		// Resolved with timestamp before creation: counted as resolved but
		// excluded from the duration mean.
		{
			ID:                 "ev-backwards",
			ComplianceStandard: domain.StandardGDPR,
			ResolutionStatus:   domain.ResolutionResolved,
			CreatedAt:          created,
			ResolvedAt:         &before,
		},
		// Resolved without a timestamp at all.
		{
			ID:                 "ev-untimed",
			ComplianceStandard: domain.StandardGDPR,
			ResolutionStatus:   domain.ResolutionResolved,
			CreatedAt:          created,
		},
		{
			ID:                 "ev-valid",
			ComplianceStandard: domain.StandardGDPR,
			ResolutionStatus:   domain.ResolutionResolved,
			CreatedAt:          created,
			ResolvedAt:         &after,
		},
	}

	summary := Summarize(events)

	if math.Abs(summary.ResolutionRate-1.0) > 1e-9 {
		t.Errorf("resolution rate %.2f, want 1.00", summary.ResolutionRate)
	}
	if math.Abs(summary.AvgResolutionTimeHours-2.0) > 1e-9 {
		t.Errorf("avg resolution hours %.2f, want 2.00 (only the valid duration)", summary.AvgResolutionTimeHours)
	}
}
