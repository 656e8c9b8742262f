// Package threshold maintains per-merchant-category fraud thresholds and
// converts raw fraud scores into segment-aware decisions and risk levels.
package threshold

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// Recalibration constants. Emission and application are gated separately:
// an adjustment is reported when its raw delta exceeds emitDelta, but the new
// threshold is applied and persisted only when it exceeds applyDelta.
const (
	fprLimit   = 0.15
	fnrLimit   = 0.10
	rateAnchor = 0.10

	emitDelta  = 0.001
	applyDelta = 0.02
)

// RecalibrationWindow is the trailing window over which outcome statistics
// are collected for Recalibrate.
const RecalibrationWindow = 30 * 24 * time.Hour

// Store holds the threshold configuration per merchant-category segment.
// The "default" segment always exists and is the fallback for absent or
// unrecognized categories. Reads are concurrent; writes are serialized.
// Persistence is best effort: a failed read or write is logged and the store
// keeps operating on its last-known in-memory state.
type Store struct {
	mu      sync.RWMutex
	configs map[string]*domain.ThresholdConfig
	repo    domain.Repository
}

// NewStore creates a store seeded with default segment configurations.
// repo may be nil for purely in-memory operation.
func NewStore(repo domain.Repository) *Store {
	s := &Store{
		configs: make(map[string]*domain.ThresholdConfig),
		repo:    repo,
	}
	for _, cfg := range defaultConfigs() {
		s.configs[cfg.MerchantCategory] = cfg
	}
	return s
}

func defaultConfigs() []*domain.ThresholdConfig {
	now := time.Now().UTC()
	mk := func(category string, threshold, min, max, rate float64, minSamples int) *domain.ThresholdConfig {
		return &domain.ThresholdConfig{
			MerchantCategory:  category,
			FraudThreshold:    threshold,
			DynamicAdjustment: true,
			MinThreshold:      min,
			MaxThreshold:      max,
			AdaptationRate:    rate,
			SampleSizeMinimum: minSamples,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}
	return []*domain.ThresholdConfig{
		mk(domain.DefaultSegment, 0.50, 0.30, 0.90, 0.05, 50),
		mk("gambling", 0.40, 0.25, 0.70, 0.08, 30),
		mk("crypto", 0.40, 0.25, 0.70, 0.08, 30),
		mk("luxury", 0.45, 0.30, 0.80, 0.06, 40),
		mk("retail", 0.60, 0.40, 0.90, 0.05, 50),
		mk("groceries", 0.65, 0.45, 0.90, 0.04, 60),
		mk("travel", 0.55, 0.35, 0.85, 0.05, 50),
	}
}

// LoadFromRepository overwrites in-memory segments with persisted
// configurations. On failure the current cache is kept unchanged.
func (s *Store) LoadFromRepository(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	configs, err := s.repo.ListThresholdConfigs(ctx)
	if err != nil {
		slog.Warn("failed to load threshold configs, keeping cached state", "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cfg := range configs {
		key := normalize(cfg.MerchantCategory)
		c := *cfg
		c.MerchantCategory = key
		s.configs[key] = &c
	}

	// The default segment must survive any load.
	if _, ok := s.configs[domain.DefaultSegment]; !ok {
		s.configs[domain.DefaultSegment] = defaultConfigs()[0]
	}

	return nil
}

// Threshold returns the current fraud threshold for the category,
// falling back to the default segment.
func (s *Store) Threshold(category string) float64 {
	return s.Config(category).FraudThreshold
}

// Config returns a copy of the full configuration for the category,
// falling back to the default segment.
func (s *Store) Config(category string) domain.ThresholdConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg, ok := s.configs[normalize(category)]; ok {
		return *cfg
	}
	return *s.configs[domain.DefaultSegment]
}

// Classify reports whether the fraud score exceeds the segment threshold.
func (s *Store) Classify(fraudScore float64, category string) bool {
	return fraudScore > s.Threshold(category)
}

// RiskLevel maps the distance between score and segment threshold to an
// ordinal level. Equality with the threshold is low.
func (s *Store) RiskLevel(fraudScore float64, category string) domain.RiskLevel {
	threshold := s.Threshold(category)
	if fraudScore <= threshold {
		return domain.RiskLow
	}

	d := fraudScore - threshold
	switch {
	case d < 0.10:
		return domain.RiskMedium
	case d < 0.25:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// Segments returns copies of all segment configurations.
func (s *Store) Segments() []domain.ThresholdConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ThresholdConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, *cfg)
	}
	return out
}

// UpdateThreshold sets a segment threshold by administrative request.
// The value must lie within the segment's [min, max] bounds.
func (s *Store) UpdateThreshold(ctx context.Context, category string, value float64) error {
	key := normalize(category)

	s.mu.Lock()
	cfg, ok := s.configs[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown segment: %s", key)
	}
	if value < cfg.MinThreshold || value > cfg.MaxThreshold {
		s.mu.Unlock()
		return fmt.Errorf("threshold %.3f outside bounds [%.3f, %.3f]", value, cfg.MinThreshold, cfg.MaxThreshold)
	}
	cfg.FraudThreshold = value
	cfg.UpdatedAt = time.Now().UTC()
	snapshot := *cfg
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	return nil
}

// Upsert creates or replaces a segment configuration. Segments are never
// deleted, only replaced.
func (s *Store) Upsert(ctx context.Context, cfg domain.ThresholdConfig) error {
	if cfg.MinThreshold > cfg.MaxThreshold {
		return fmt.Errorf("min threshold %.3f above max %.3f", cfg.MinThreshold, cfg.MaxThreshold)
	}
	if cfg.FraudThreshold < cfg.MinThreshold || cfg.FraudThreshold > cfg.MaxThreshold {
		return fmt.Errorf("threshold %.3f outside bounds [%.3f, %.3f]", cfg.FraudThreshold, cfg.MinThreshold, cfg.MaxThreshold)
	}

	key := normalize(cfg.MerchantCategory)
	cfg.MerchantCategory = key
	cfg.UpdatedAt = time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	s.mu.Lock()
	c := cfg
	s.configs[key] = &c
	s.mu.Unlock()

	s.persist(ctx, &cfg)
	return nil
}

// Recalibrate adjusts segment thresholds from trailing-window outcome
// statistics. For every segment with dynamic adjustment enabled and enough
// samples: a false-positive rate above 0.15 raises the threshold by
// rate x (FPR - 0.10); otherwise a false-negative rate above 0.10 lowers it
// by rate x (FNR - 0.10). The result is clamped into [min, max]. Adjustments
// are emitted when |delta| > 0.001 and applied when |delta| > 0.02.
func (s *Store) Recalibrate(ctx context.Context, stats []domain.OutcomeStats) []domain.ThresholdAdjustment {
	now := time.Now().UTC()
	var adjustments []domain.ThresholdAdjustment
	var applied []domain.ThresholdConfig

	s.mu.Lock()
	for _, stat := range stats {
		cfg, ok := s.configs[normalize(stat.MerchantCategory)]
		if !ok || !cfg.DynamicAdjustment {
			continue
		}
		if stat.SampleCount < cfg.SampleSizeMinimum {
			continue
		}

		fpr := stat.FalsePositiveRate()
		fnr := stat.FalseNegativeRate()

		var delta float64
		var reason string
		switch {
		case fpr > fprLimit:
			delta = cfg.AdaptationRate * (fpr - rateAnchor)
			reason = fmt.Sprintf("false positive rate %.3f above %.2f, raising threshold", fpr, fprLimit)
		case fnr > fnrLimit:
			delta = cfg.AdaptationRate * (rateAnchor - fnr)
			reason = fmt.Sprintf("false negative rate %.3f above %.2f, lowering threshold", fnr, fnrLimit)
		default:
			continue
		}

		old := cfg.FraudThreshold
		next := clamp(old+delta, cfg.MinThreshold, cfg.MaxThreshold)

		if abs(delta) <= emitDelta {
			continue
		}

		adj := domain.ThresholdAdjustment{
			MerchantCategory: cfg.MerchantCategory,
			OldThreshold:     old,
			NewThreshold:     next,
			Reason:           reason,
			Delta:            delta,
			Applied:          abs(delta) > applyDelta,
			Timestamp:        now,
		}
		adjustments = append(adjustments, adj)

		if adj.Applied {
			cfg.FraudThreshold = next
			cfg.UpdatedAt = now
			applied = append(applied, *cfg)
		}
	}
	s.mu.Unlock()

	for i := range applied {
		s.persist(ctx, &applied[i])
	}

	return adjustments
}

// RecalibrateFromRepository gathers trailing-window outcome statistics from
// the repository and recalibrates with them.
func (s *Store) RecalibrateFromRepository(ctx context.Context) ([]domain.ThresholdAdjustment, error) {
	if s.repo == nil {
		return nil, nil
	}

	stats, err := s.repo.GetOutcomeStats(ctx, time.Now().UTC().Add(-RecalibrationWindow))
	if err != nil {
		slog.Warn("failed to load outcome stats, skipping recalibration", "error", err)
		return nil, err
	}

	return s.Recalibrate(ctx, stats), nil
}

// persist writes a segment configuration, logging failures without
// surfacing them. The in-memory value is already applied.
func (s *Store) persist(ctx context.Context, cfg *domain.ThresholdConfig) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveThresholdConfig(ctx, cfg); err != nil {
		slog.Error("failed to persist threshold config",
			"category", cfg.MerchantCategory,
			"error", err,
		)
	}
}

func normalize(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	if key == "" {
		return domain.DefaultSegment
	}
	return key
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
