package compliance

import (
	"github.com/opensource-finance/kite/internal/domain"
)

// Summarize reduces a set of compliance events to windowed report metrics.
// Coverage counts are zero-filled for every known standard, so dashboards can
// rely on all keys being present. Window filtering is the caller's concern;
// the repository query already bounds the event set.
func Summarize(events []*domain.ComplianceEvent) domain.ComplianceSummary {
	summary := domain.ComplianceSummary{
		TotalEvents:      len(events),
		StandardCoverage: make(map[string]int, 6),
	}
	for _, std := range domain.Standards() {
		summary.StandardCoverage[std] = 0
	}

	var resolved int
	var totalResolutionHours float64
	var timedResolutions int

	for _, ev := range events {
		if ev.Severity == domain.SeverityCritical {
			summary.CriticalEvents++
		}

		if ev.Resolved() {
			resolved++
			if ev.ResolvedAt != nil {
				if d := ev.ResolvedAt.Sub(ev.CreatedAt); d > 0 {
					totalResolutionHours += d.Hours()
					timedResolutions++
				}
			}
		} else {
			summary.UnresolvedEvents++
		}

		summary.StandardCoverage[ev.ComplianceStandard]++
	}

	if summary.TotalEvents > 0 {
		summary.ResolutionRate = float64(resolved) / float64(summary.TotalEvents)
	}
	if timedResolutions > 0 {
		summary.AvgResolutionTimeHours = totalResolutionHours / float64(timedResolutions)
	}

	return summary
}
