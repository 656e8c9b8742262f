package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/ingest"
	"github.com/opensource-finance/kite/internal/pipeline"
	"github.com/opensource-finance/kite/internal/scoring"
	"github.com/opensource-finance/kite/internal/threshold"
)

// createTestServer builds a server over in-memory components with the
// evaluation clock pinned to mid-afternoon, so the abnormal-timing rule
// never fires during tests. No repository or cache is attached.
func createTestServer() *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	rules, _ := scoring.NewCustomEngine()

	estimator := scoring.NewEstimator()
	estimator.Now = func() time.Time {
		return time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	}
	estimator.Custom = rules

	thresholds := threshold.NewStore(nil)
	pipe := pipeline.New(estimator, thresholds, nil, nil, nil)
	ingestor := ingest.New(pipe)

	return NewServer(cfg, pipe, ingestor, thresholds, rules, nil, nil, "test-v1")
}

func postJSON(t *testing.T, server *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func getPath(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("CleanTransaction", func(t *testing.T) {
		rr := postJSON(t, server, "/evaluate", map[string]any{
			"transaction_id":    "api-tx-001",
			"amount":            45.99,
			"timestamp":         "2025-06-15T14:00:00Z",
			"location":          "Lisbon, PT",
			"merchant_category": "retail",
			"device_info":       "iPhone 15",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var eval domain.Evaluation
		if err := json.Unmarshal(rr.Body.Bytes(), &eval); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if eval.TransactionID != "api-tx-001" {
			t.Errorf("expected transaction ID 'api-tx-001', got '%s'", eval.TransactionID)
		}
		if eval.Score.FraudScore != 0 {
			t.Errorf("expected score 0, got %.2f", eval.Score.FraudScore)
		}
		if eval.RiskLevel != domain.RiskLow {
			t.Errorf("expected risk low, got '%s'", eval.RiskLevel)
		}
		if eval.IsFraudulent {
			t.Error("clean transaction should not be flagged")
		}
		if eval.Metadata.EngineVersion != pipeline.EngineVersion {
			t.Errorf("expected engine version '%s', got '%s'", pipeline.EngineVersion, eval.Metadata.EngineVersion)
		}
	})

	t.Run("RiskyTransaction", func(t *testing.T) {
		rr := postJSON(t, server, "/evaluate", map[string]any{
			"transaction_id":    "api-tx-002",
			"amount":            15000.0,
			"timestamp":         "2025-06-15T03:30:00Z",
			"merchant_category": "gambling",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var eval domain.Evaluation
		if err := json.Unmarshal(rr.Body.Bytes(), &eval); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		// Unusual amount + high-risk category + very high value = 0.75.
		if eval.Score.FraudScore != 0.75 {
			t.Errorf("expected score 0.75, got %.2f", eval.Score.FraudScore)
		}
		if !eval.IsFraudulent {
			t.Error("expected transaction flagged against the gambling threshold")
		}
		if eval.RiskLevel != domain.RiskCritical {
			t.Errorf("expected risk critical, got '%s'", eval.RiskLevel)
		}
		if eval.Explanation == nil {
			t.Fatal("expected explanation in response")
		}
		if len(eval.ComplianceEvents) == 0 {
			t.Error("expected compliance events in response")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingAmount", func(t *testing.T) {
		rr := postJSON(t, server, "/evaluate", map[string]any{
			"timestamp": "2025-06-15T14:00:00Z",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr := postJSON(t, server, "/evaluate", map[string]any{
			"amount":    -100.0,
			"timestamp": "2025-06-15T14:00:00Z",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(t, server, "/evaluate", map[string]any{
			"amount":    100.0,
			"timestamp": "2025-06-15T14:00:00Z",
		})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestIngestEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("MixedBatch", func(t *testing.T) {
		rr := postJSON(t, server, "/ingest", []map[string]any{
			{"amount": 100.0, "timestamp": "2025-06-15T14:00:00Z"},
			{"amount": "250.75", "timestamp": "2025-06-15T15:00:00Z"},
			{"timestamp": "2025-06-15T16:00:00Z"}, // missing amount
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var report ingest.Report
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse report: %v", err)
		}

		if report.Total != 3 || report.Success != 2 || report.Failed != 1 {
			t.Errorf("expected 3/2/1, got %d/%d/%d", report.Total, report.Success, report.Failed)
		}
		if len(report.Errors) != 1 {
			t.Errorf("expected 1 error message, got %d", len(report.Errors))
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := postJSON(t, server, "/ingest", []map[string]any{})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestThresholdEndpoints(t *testing.T) {
	server := createTestServer()

	t.Run("ListSegments", func(t *testing.T) {
		rr := getPath(t, server, "/thresholds")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Segments []domain.ThresholdConfig `json:"segments"`
			Count    int                      `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Count < 6 {
			t.Errorf("expected at least 6 seeded segments, got %d", resp.Count)
		}

		hasDefault := false
		for _, seg := range resp.Segments {
			if seg.MerchantCategory == domain.DefaultSegment {
				hasDefault = true
			}
		}
		if !hasDefault {
			t.Error("expected default segment in listing")
		}
	})

	t.Run("GetSegment", func(t *testing.T) {
		rr := getPath(t, server, "/thresholds/gambling")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var cfg domain.ThresholdConfig
		json.Unmarshal(rr.Body.Bytes(), &cfg)

		if cfg.MerchantCategory != "gambling" {
			t.Errorf("expected category 'gambling', got '%s'", cfg.MerchantCategory)
		}
		if cfg.FraudThreshold != 0.40 {
			t.Errorf("expected threshold 0.40, got %.2f", cfg.FraudThreshold)
		}
	})

	t.Run("UnknownSegmentFallsBackToDefault", func(t *testing.T) {
		rr := getPath(t, server, "/thresholds/florist")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var cfg domain.ThresholdConfig
		json.Unmarshal(rr.Body.Bytes(), &cfg)

		if cfg.MerchantCategory != domain.DefaultSegment {
			t.Errorf("expected default segment, got '%s'", cfg.MerchantCategory)
		}
	})

	t.Run("UpdateThreshold", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/thresholds/retail",
			bytes.NewBufferString(`{"fraudThreshold":0.55}`))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var cfg domain.ThresholdConfig
		json.Unmarshal(rr.Body.Bytes(), &cfg)
		if cfg.FraudThreshold != 0.55 {
			t.Errorf("expected threshold 0.55, got %.2f", cfg.FraudThreshold)
		}
	})

	t.Run("UpdateOutOfBounds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/thresholds/retail",
			bytes.NewBufferString(`{"fraudThreshold":0.99}`))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RecalibrateWithoutRepository", func(t *testing.T) {
		rr := postJSON(t, server, "/thresholds/recalibrate", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 0 {
			t.Errorf("expected no adjustments without outcome data, got %d", resp.Count)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer()

	t.Run("CreateAndList", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{
			ID:         "rule-velocity",
			Name:       "Missing device info",
			Expression: "!has_device && amount > 1000.0",
			Weight:     0.15,
			Enabled:    true,
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		list := getPath(t, server, "/rules")
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(list.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", resp.Count)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{
			ID:         "rule-bad",
			Name:       "Broken",
			Expression: "amount >>> 10",
			Weight:     0.1,
			Enabled:    true,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{
			ID:     "rule-incomplete",
			Weight: 0.1,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadWithoutRepository", func(t *testing.T) {
		rr := postJSON(t, server, "/rules/reload", nil)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestRepositoryBackedEndpointsUnavailable(t *testing.T) {
	server := createTestServer()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/transactions"},
		{http.MethodGet, "/transactions/tx-1"},
		{http.MethodGet, "/transactions/tx-1/explanation"},
		{http.MethodGet, "/compliance/events"},
		{http.MethodGet, "/compliance/report"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected status 503, got %d", p.method, p.path, rr.Code)
		}
	}

	rr := postJSON(t, server, "/feedback", FeedbackRequest{TransactionID: "tx-1", ActualFraud: true})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("POST /feedback: expected status 503, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("HealthCheck", func(t *testing.T) {
		rr := getPath(t, server, "/health")

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := getPath(t, server, "/ready")

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("MetricsExposed", func(t *testing.T) {
		rr := getPath(t, server, "/metrics")

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
