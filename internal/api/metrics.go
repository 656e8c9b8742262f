package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/kite/internal/domain"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kite_evaluations_total",
		Help: "Transactions evaluated, by resulting risk level.",
	}, []string{"risk_level"})

	fraudDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kite_fraud_detected_total",
		Help: "Transactions flagged as fraudulent against their segment threshold.",
	})

	complianceEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kite_compliance_events_total",
		Help: "Compliance events emitted, by event type.",
	}, []string{"event_type"})

	ingestRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kite_ingest_records_total",
		Help: "Batch ingestion records, by outcome.",
	}, []string{"outcome"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kite_http_request_duration_seconds",
		Help:    "HTTP request latency, by route pattern and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// recordEvaluation updates the scoring counters for one completed evaluation.
func recordEvaluation(eval *domain.Evaluation) {
	evaluationsTotal.WithLabelValues(string(eval.RiskLevel)).Inc()
	if eval.IsFraudulent {
		fraudDetectedTotal.Inc()
	}
	for i := range eval.ComplianceEvents {
		complianceEventsTotal.WithLabelValues(eval.ComplianceEvents[i].EventType).Inc()
	}
}

// MetricsMiddleware records request latency per route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}

		httpRequestDuration.WithLabelValues(
			r.Method,
			route,
			strconv.Itoa(rw.statusCode),
		).Observe(time.Since(start).Seconds())
	})
}
