package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/behaviorsec/kestrel/internal/assess"
	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/manager"
	"github.com/behaviorsec/kestrel/internal/policy"
	"github.com/behaviorsec/kestrel/internal/profile"
	"github.com/behaviorsec/kestrel/internal/scoring"
)

// createTestServer wires a full in-memory stack: no repository, no cache,
// no bus.
func createTestServer() *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	store := profile.NewStore(domain.DefaultBufferSize, domain.DefaultAnomalyThreshold)
	scorer := scoring.New(domain.ModelConfig{
		Backend:       domain.ModelBackendIsoForest,
		Trees:         25,
		Contamination: 0.1,
		Seed:          42,
	})
	assessor := assess.NewProcessor(scorer)
	mgr := manager.New(store, scorer, assessor, nil, nil, domain.BehaviorConfig{
		BufferSize:       domain.DefaultBufferSize,
		AnomalyThreshold: domain.DefaultAnomalyThreshold,
	})

	engine, _ := policy.NewEngine()
	engine.LoadPolicies(policy.DefaultPolicies())

	return NewServer(cfg, mgr, engine, nil, nil, "test-v1")
}

func keystrokeBody(n int, start float64) []byte {
	events := make([]domain.KeystrokeEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, domain.KeystrokeEvent{
			Subtype:   domain.KeySubtypeDown,
			Timestamp: start + float64(i)*0.12,
			Key:       "a",
		})
	}
	body, _ := json.Marshal(KeystrokeBatchRequest{Events: events})
	return body
}

func postJSON(t *testing.T, server *Server, path, userID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestIngestEndpoints(t *testing.T) {
	server := createTestServer()

	t.Run("Keystrokes", func(t *testing.T) {
		rr := postJSON(t, server, "/behavior/keystrokes", "alice", keystrokeBody(5, 100))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ProcessResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if result.UserID != "alice" {
			t.Errorf("expected userId alice, got %s", result.UserID)
		}
		if result.EventsProcessed != 5 {
			t.Errorf("expected 5 events processed, got %d", result.EventsProcessed)
		}
		if result.BaselineEstablished {
			t.Error("baseline should not be established after one batch")
		}
	})

	t.Run("Mouse", func(t *testing.T) {
		events := []domain.PointerEvent{
			{Subtype: domain.PointerSubtypeClick, Timestamp: 100, X: 10, Y: 20},
			{Subtype: domain.PointerSubtypeScroll, Timestamp: 101},
		}
		body, _ := json.Marshal(MouseBatchRequest{Events: events})
		rr := postJSON(t, server, "/behavior/mouse", "alice", body)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ProcessResult
		json.Unmarshal(rr.Body.Bytes(), &result)
		if result.EventsProcessed != 2 {
			t.Errorf("expected 2 events processed, got %d", result.EventsProcessed)
		}
	})

	t.Run("Device", func(t *testing.T) {
		snap := domain.DeviceSnapshot{
			ScreenResolution: "1920x1080",
			IPAddress:        "10.0.0.1",
		}
		body, _ := json.Marshal(snap)
		rr := postJSON(t, server, "/behavior/device", "alice", body)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ProcessResult
		json.Unmarshal(rr.Body.Bytes(), &result)
		if len(result.Anomalies) != 0 {
			t.Errorf("first device snapshot should raise no anomalies, got %d", len(result.Anomalies))
		}

		// Changed IP raises a high-severity anomaly
		snap.IPAddress = "203.0.113.9"
		body, _ = json.Marshal(snap)
		rr = postJSON(t, server, "/behavior/device", "alice", body)

		json.Unmarshal(rr.Body.Bytes(), &result)
		if len(result.Anomalies) != 1 {
			t.Fatalf("expected 1 anomaly for changed IP, got %d", len(result.Anomalies))
		}
		if result.Anomalies[0].Severity != domain.SeverityHigh {
			t.Errorf("expected high severity, got %s", result.Anomalies[0].Severity)
		}
	})

	t.Run("MissingUserID", func(t *testing.T) {
		rr := postJSON(t, server, "/behavior/keystrokes", "", keystrokeBody(3, 100))

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := postJSON(t, server, "/behavior/keystrokes", "alice", []byte("not-json"))

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(t, server, "/behavior/keystrokes", "alice", keystrokeBody(3, 200))

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

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("UnknownUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/behavior/score", nil)
		req.Header.Set("X-User-ID", "stranger")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Assessment.SecurityScore != 0 {
			t.Errorf("expected score 0 for unknown user, got %d", resp.Assessment.SecurityScore)
		}
		if resp.Assessment.RiskLevel != domain.RiskUnknown {
			t.Errorf("expected risk unknown, got %s", resp.Assessment.RiskLevel)
		}

		// Unknown users trigger the step-up policy
		var challenge bool
		for _, d := range resp.RecommendedActions {
			if d.Action == domain.ActionChallenge {
				challenge = true
			}
		}
		if !challenge {
			t.Error("expected a challenge recommendation for unknown user")
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Version)
		}
	})

	t.Run("KnownUserWithBaseline", func(t *testing.T) {
		// 10 batches of 7 keydowns cross the 50-interval quota
		for i := 0; i < 10; i++ {
			rr := postJSON(t, server, "/behavior/keystrokes", "bob", keystrokeBody(7, 100+float64(i)*10))
			if rr.Code != http.StatusOK {
				t.Fatalf("ingest batch %d: status %d", i, rr.Code)
			}
		}

		req := httptest.NewRequest(http.MethodGet, "/behavior/score", nil)
		req.Header.Set("X-User-ID", "bob")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if !resp.Assessment.BaselineEstablished {
			t.Error("expected established baseline")
		}
		if resp.Assessment.RiskLevel == domain.RiskUnknown {
			t.Error("expected a concrete risk level for known user")
		}
	})
}

func TestProfileEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("UnseenUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/behavior/profile", nil)
		req.Header.Set("X-User-ID", "ghost")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("SeenUser", func(t *testing.T) {
		postJSON(t, server, "/behavior/keystrokes", "carol", keystrokeBody(5, 100))

		req := httptest.NewRequest(http.MethodGet, "/behavior/profile", nil)
		req.Header.Set("X-User-ID", "carol")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var p domain.BehaviorProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
			t.Fatalf("failed to parse profile: %v", err)
		}
		if p.UserID != "carol" {
			t.Errorf("expected userId carol, got %s", p.UserID)
		}
		if len(p.Keystroke.Intervals) != 4 {
			t.Errorf("expected 4 intervals, got %d", len(p.Keystroke.Intervals))
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	server := createTestServer()

	t.Run("ListPolicies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policies", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != len(policy.DefaultPolicies()) {
			t.Errorf("expected %d policies, got %d", len(policy.DefaultPolicies()), resp.Count)
		}
	})

	t.Run("GetPolicy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/policies/%s", policy.PolicyAnomalyAlert), nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var p domain.PolicyConfig
		json.Unmarshal(rr.Body.Bytes(), &p)
		if p.Action != domain.ActionAlert {
			t.Errorf("expected action alert, got %s", p.Action)
		}
	})

	t.Run("GetPolicyNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policies/no-such-policy", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreatePolicyRejectsBadExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{
			ID:         "bad-policy",
			Name:       "Broken",
			Expression: "security_score <", // syntax error
			Action:     domain.ActionBlock,
			Enabled:    true,
		})
		rr := postJSON(t, server, "/policies", "", body)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreatePolicyRejectsBadAction", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{
			ID:         "weird-policy",
			Name:       "Weird",
			Expression: "security_score < 10",
			Action:     "escalate",
			Enabled:    true,
		})
		rr := postJSON(t, server, "/policies", "", body)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreatePolicyWithoutRepository", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{
			ID:         "score-floor",
			Name:       "Score floor",
			Expression: "security_score < 30",
			Action:     domain.ActionBlock,
			Enabled:    true,
		})
		rr := postJSON(t, server, "/policies", "", body)

		// Without a repository the policy is validated and accepted but
		// only applied after a reload from persistent storage.
		if rr.Code != http.StatusCreated {
			t.Errorf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

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
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("UserMiddlewareExtractsID", func(t *testing.T) {
		var capturedUserID string

		handler := UserMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedUserID = GetUserID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", "user-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedUserID != "user-123" {
			t.Errorf("expected user ID 'user-123', got '%s'", capturedUserID)
		}
	})

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
