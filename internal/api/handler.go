package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kite/internal/compliance"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/ingest"
	"github.com/opensource-finance/kite/internal/pipeline"
	"github.com/opensource-finance/kite/internal/scoring"
	"github.com/opensource-finance/kite/internal/threshold"
)

// defaultReportWindowDays is the compliance report window when ?days is absent.
const defaultReportWindowDays = 30

// Handler holds dependencies for API handlers.
type Handler struct {
	pipe       *pipeline.Pipeline
	ingestor   *ingest.Ingestor
	thresholds *threshold.Store
	rules      *scoring.CustomEngine
	repo       domain.Repository
	cache      domain.Cache
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(pipe *pipeline.Pipeline, ingestor *ingest.Ingestor, thresholds *threshold.Store, rules *scoring.CustomEngine, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		pipe:       pipe,
		ingestor:   ingestor,
		thresholds: thresholds,
		rules:      rules,
		repo:       repo,
		cache:      cache,
		version:    version,
	}
}

// Evaluate handles POST /evaluate. The body is one raw transaction record;
// the response is the full evaluation.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var rec ingest.RawRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := ingest.ParseRecord(rec)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	eval := h.pipe.EvaluateAndStore(r.Context(), tx)
	recordEvaluation(eval)

	writeJSON(w, http.StatusOK, eval)
}

// Ingest handles POST /ingest with a batch of raw records.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var records []ingest.RawRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one record is required",
		})
		return
	}

	report := h.ingestor.IngestBatch(r.Context(), records)
	ingestRecordsTotal.WithLabelValues("success").Add(float64(report.Success))
	ingestRecordsTotal.WithLabelValues("failed").Add(float64(report.Failed))

	writeJSON(w, http.StatusOK, report)
}

// ListTransactions handles GET /transactions?since=RFC3339&limit=N.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		since = parsed.UTC()
	}

	limit := queryInt(r, "limit", 100)

	txs, err := h.repo.ListTransactions(r.Context(), since, limit)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetExplanation handles GET /transactions/{id}/explanation.
func (h *Handler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	ex, err := h.repo.GetExplanation(r.Context(), txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "explanation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, ex)
}

// ListThresholds handles GET /thresholds.
func (h *Handler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	segments := h.thresholds.Segments()
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": segments,
		"count":    len(segments),
	})
}

// GetThreshold handles GET /thresholds/{category}. Unknown categories resolve
// to the default segment, mirroring scoring-time segment resolution.
func (h *Handler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	writeJSON(w, http.StatusOK, h.thresholds.Config(category))
}

// ThresholdUpdateRequest is the request body for PUT /thresholds/{category}.
type ThresholdUpdateRequest struct {
	FraudThreshold float64 `json:"fraudThreshold"`
}

// UpdateThreshold handles PUT /thresholds/{category}.
func (h *Handler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	var req ThresholdUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.thresholds.UpdateThreshold(r.Context(), category, req.FraudThreshold); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, h.thresholds.Config(category))
}

// Recalibrate handles POST /thresholds/recalibrate.
func (h *Handler) Recalibrate(w http.ResponseWriter, r *http.Request) {
	adjustments, err := h.thresholds.RecalibrateFromRepository(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "recalibration failed",
		})
		return
	}

	applied := 0
	for i := range adjustments {
		if adjustments[i].Applied {
			applied++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"adjustments": adjustments,
		"count":       len(adjustments),
		"applied":     applied,
	})
}

// ListComplianceEvents handles GET /compliance/events with optional
// status, severity, days and limit query filters.
func (h *Handler) ListComplianceEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	filter := domain.ComplianceFilter{
		Status:   r.URL.Query().Get("status"),
		Severity: domain.Severity(r.URL.Query().Get("severity")),
		Limit:    queryInt(r, "limit", 100),
	}
	if days := queryInt(r, "days", 0); days > 0 {
		filter.Since = time.Now().UTC().AddDate(0, 0, -days)
	}

	events, err := h.repo.ListComplianceEvents(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list compliance events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list compliance events",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ResolveRequest is the request body for resolving a compliance event.
type ResolveRequest struct {
	Notes string `json:"notes"`
}

// ResolveComplianceEvent handles POST /compliance/events/{id}/resolve.
func (h *Handler) ResolveComplianceEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.repo.ResolveComplianceEvent(r.Context(), eventID, req.Notes, time.Now().UTC()); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "compliance event not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": domain.ResolutionResolved,
	})
}

// ComplianceReport handles GET /compliance/report?days=N.
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	days := queryInt(r, "days", defaultReportWindowDays)
	if days <= 0 {
		days = defaultReportWindowDays
	}

	events, err := h.repo.ListComplianceEvents(r.Context(), domain.ComplianceFilter{
		Since: time.Now().UTC().AddDate(0, 0, -days),
	})
	if err != nil {
		slog.Error("failed to build compliance report", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build compliance report",
		})
		return
	}

	summary := compliance.Summarize(events)

	writeJSON(w, http.StatusOK, map[string]any{
		"windowDays": days,
		"summary":    summary,
	})
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	TransactionID string `json:"transactionId"`
	ActualFraud   bool   `json:"actualFraud"`
}

// Feedback handles POST /feedback: a confirmed fraud label for a scored
// transaction, feeding threshold recalibration.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(r.Context(), req.TransactionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	outcome := &domain.TransactionOutcome{
		ID:               uuid.New().String(),
		TransactionID:    tx.TransactionID,
		MerchantCategory: tx.MerchantCategory,
		PredictedFraud:   tx.IsFraudulent,
		ActualFraud:      req.ActualFraud,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.repo.SaveOutcome(r.Context(), outcome); err != nil {
		slog.Error("failed to save outcome", "transaction_id", tx.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save outcome",
		})
		return
	}

	writeJSON(w, http.StatusCreated, outcome)
}

// ListRules returns all loaded custom rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.rules.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	Weight     float64 `json:"weight"`
	Reason     string  `json:"reason,omitempty"`
	Enabled    bool    `json:"enabled"`
}

// CreateRule compiles, loads and persists a new custom rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	if req.Weight <= 0 || req.Weight > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be between 0 (exclusive) and 1",
		})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = req.Name
	}

	rule := &domain.CustomRule{
		ID:         req.ID,
		Name:       req.Name,
		Expression: req.Expression,
		Weight:     req.Weight,
		Reason:     reason,
		Enabled:    req.Enabled,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	// Validate the CEL expression by compiling and loading it.
	if err := h.rules.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCustomRule(r.Context(), rule); err != nil {
			slog.Error("failed to save custom rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("custom rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListCustomRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("custom rules reloaded", "count", h.rules.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.rules.RulesCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
