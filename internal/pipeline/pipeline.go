// Package pipeline runs a transaction through scoring, threshold decision,
// explanation and compliance classification. Evaluation is pure and always
// returns a result; persistence is a separate, fallible phase so a storage
// outage never blocks the scoring path.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kite/internal/compliance"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/explain"
	"github.com/opensource-finance/kite/internal/scoring"
	"github.com/opensource-finance/kite/internal/threshold"
)

var tracer = otel.Tracer("kite-pipeline")

var persistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kite_persist_failures_total",
	Help: "Evaluations whose persistence phase failed.",
})

// EngineVersion is stamped into evaluation metadata.
const EngineVersion = "kite-1.0"

// EvaluationTTL bounds how long cached evaluations stay readable.
const EvaluationTTL = 15 * time.Minute

// Pipeline wires the evaluation components together. Repository, cache and
// bus are optional; a nil collaborator skips that side effect.
type Pipeline struct {
	estimator  *scoring.Estimator
	thresholds *threshold.Store
	explainer  *explain.Generator
	classifier *compliance.Classifier

	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
}

// New creates a pipeline over the given components and collaborators.
func New(
	estimator *scoring.Estimator,
	thresholds *threshold.Store,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
) *Pipeline {
	return &Pipeline{
		estimator:  estimator,
		thresholds: thresholds,
		explainer:  explain.NewGenerator(),
		classifier: compliance.NewClassifier(),
		repo:       repo,
		cache:      cache,
		bus:        bus,
	}
}

// Evaluate scores, classifies and explains one transaction. Pure over the
// transaction and the current threshold state: no writes happen here and it
// cannot fail.
func (p *Pipeline) Evaluate(ctx context.Context, tx *domain.Transaction) *domain.Evaluation {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.evaluate", trace.WithAttributes(
		attribute.String("transaction.id", tx.TransactionID),
		attribute.Float64("transaction.amount", tx.Amount),
	))
	defer span.End()

	scoreStart := time.Now()
	score := p.estimator.Score(ctx, tx)
	scoreMs := time.Since(scoreStart).Milliseconds()

	riskLevel := p.thresholds.RiskLevel(score.FraudScore, tx.MerchantCategory)
	segmentThreshold := p.thresholds.Threshold(tx.MerchantCategory)
	isFraudulent := p.thresholds.Classify(score.FraudScore, tx.MerchantCategory)

	explainStart := time.Now()
	explanation := p.explainer.Explain(tx, score.FraudScore)
	explainMs := time.Since(explainStart).Milliseconds()

	events := p.classifier.Classify(tx, score.FraudScore, riskLevel)
	complianceEvents := make([]domain.ComplianceEvent, 0, len(events))
	for _, ev := range events {
		complianceEvents = append(complianceEvents, *ev)
	}

	tx.FraudScore = score.FraudScore
	tx.IsFraudulent = score.IsFraudulent
	tx.DetectionReason = score.Reason()

	span.SetAttributes(
		attribute.Float64("fraud.score", score.FraudScore),
		attribute.String("risk.level", string(riskLevel)),
		attribute.Int("compliance.events", len(complianceEvents)),
	)

	return &domain.Evaluation{
		ID:               uuid.New().String(),
		TransactionID:    tx.TransactionID,
		Score:            score,
		IsFraudulent:     isFraudulent,
		RiskLevel:        riskLevel,
		Threshold:        segmentThreshold,
		Explanation:      explanation,
		ComplianceEvents: complianceEvents,
		Timestamp:        time.Now().UTC(),
		Metadata: domain.EvaluationMetadata{
			TraceID:       span.SpanContext().TraceID().String(),
			ScoreMs:       scoreMs,
			ExplainMs:     explainMs,
			TotalMs:       time.Since(start).Milliseconds(),
			EngineVersion: EngineVersion,
		},
	}
}

// Persist writes the transaction, explanation and compliance events, then
// caches the evaluation. The first storage error is returned; the caller
// decides whether to retry or just log.
func (p *Pipeline) Persist(ctx context.Context, tx *domain.Transaction, eval *domain.Evaluation) error {
	if p.repo != nil {
		if err := p.repo.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		if eval.Explanation != nil {
			if err := p.repo.SaveExplanation(ctx, eval.Explanation); err != nil {
				return err
			}
		}
		for i := range eval.ComplianceEvents {
			if err := p.repo.SaveComplianceEvent(ctx, &eval.ComplianceEvents[i]); err != nil {
				return err
			}
		}
	}

	if p.cache != nil {
		if err := p.cache.SetEvaluation(ctx, eval.TransactionID, eval, EvaluationTTL); err != nil {
			return err
		}
	}

	return nil
}

// EvaluateAndStore runs Evaluate, then Persist and the scored/alert
// publications. Persistence and publish failures are logged and swallowed;
// the in-memory evaluation is always returned.
func (p *Pipeline) EvaluateAndStore(ctx context.Context, tx *domain.Transaction) *domain.Evaluation {
	eval := p.Evaluate(ctx, tx)

	if err := p.Persist(ctx, tx, eval); err != nil {
		persistFailuresTotal.Inc()
		slog.Error("failed to persist evaluation",
			"transaction_id", eval.TransactionID,
			"error", err,
		)
	}

	p.publish(ctx, eval)

	return eval
}

func (p *Pipeline) publish(ctx context.Context, eval *domain.Evaluation) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(eval)
	if err != nil {
		slog.Error("failed to marshal evaluation", "error", err)
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		slog.Error("failed to publish scored event",
			"transaction_id", eval.TransactionID,
			"error", err,
		)
	}

	if eval.IsFraudulent {
		if err := p.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"transaction_id", eval.TransactionID,
				"error", err,
			)
		}
	}

	for i := range eval.ComplianceEvents {
		evPayload, err := json.Marshal(&eval.ComplianceEvents[i])
		if err != nil {
			continue
		}
		if err := p.bus.Publish(ctx, domain.TopicComplianceEvent, evPayload); err != nil {
			slog.Error("failed to publish compliance event",
				"event_id", eval.ComplianceEvents[i].ID,
				"error", err,
			)
		}
	}
}
