package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/riskgate/riskgate/internal/engine"
	"github.com/riskgate/riskgate/internal/model"
	"github.com/riskgate/riskgate/internal/policy"
	"github.com/riskgate/riskgate/internal/store"
	"github.com/riskgate/riskgate/internal/webhook"
)

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "riskgate.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	policies := policy.NewStore(policy.Default(), "sha256:test", zerolog.Nop())
	bus := NewBus()
	dispatcher := webhook.NewDispatcher(nil, st, zerolog.Nop())
	eng := engine.New(engine.Config{
		Policies:  policies,
		Persister: st,
		Publisher: engine.MultiPublisher(dispatcher, bus),
		Logger:    zerolog.Nop(),
	})

	return New(Config{
		Engine:     eng,
		Policies:   policies,
		Store:      st,
		Dispatcher: dispatcher,
		Bus:        bus,
		Logger:     zerolog.Nop(),
		APIKey:     apiKey,
	})
}

func doJSON(t *testing.T, s *Server, method, path, apiKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthNoAuth(t *testing.T) {
	s := newTestServer(t, "secret-key")
	resp := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, "secret-key")

	resp := doJSON(t, s, http.MethodGet, "/api/v1/stats", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", resp.StatusCode)
	}
	resp = doJSON(t, s, http.MethodGet, "/api/v1/stats", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", resp.StatusCode)
	}
	resp = doJSON(t, s, http.MethodGet, "/api/v1/stats", "secret-key", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", resp.StatusCode)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	resp := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", "", map[string]any{
		"session_id": "s1",
		"action":     "send_email",
		"target":     "user@example.com",
		"metadata":   map[string]any{"recipients": 2},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	res := decode[model.EvaluationResult](t, resp)
	if res.ActionID == 0 || res.SessionID != "s1" {
		t.Errorf("result = %+v", res)
	}

	// Missing action is a validation error.
	resp = doJSON(t, s, http.MethodPost, "/api/v1/evaluate", "", map[string]any{"session_id": "s1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestApprovalFlow(t *testing.T) {
	s := newTestServer(t, "")

	resp := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", "", map[string]any{
		"session_id": "s1", "action": "delete_database", "target": "prod",
	})
	res := decode[model.EvaluationResult](t, resp)
	if !res.NeedsCheckpoint {
		t.Fatal("delete_* should checkpoint")
	}

	resp = doJSON(t, s, http.MethodGet, "/api/v1/actions/pending", "", nil)
	pending := decode[map[string]any](t, resp)
	if pending["count"].(float64) != 1 {
		t.Errorf("pending count = %v, want 1", pending["count"])
	}

	resp = doJSON(t, s, http.MethodPost, "/api/v1/approve", "", map[string]any{
		"action_id": res.ActionID, "approved": true, "notes": "reviewed",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	rec := decode[model.ActionRecord](t, resp)
	if rec.Status != model.StatusApproved {
		t.Errorf("status = %s", rec.Status)
	}

	// Double resolution conflicts.
	resp = doJSON(t, s, http.MethodPost, "/api/v1/approve", "", map[string]any{
		"action_id": res.ActionID, "approved": false,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second approve status = %d, want 409", resp.StatusCode)
	}
}

func TestNearMissEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	resp := doJSON(t, s, http.MethodPost, "/api/v1/near-miss", "", map[string]any{
		"action_pattern": "send_email", "near_miss_type": "data_exposure", "severity": 0.7,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	resp = doJSON(t, s, http.MethodPost, "/api/v1/near-miss", "", map[string]any{
		"action_pattern": "send_email", "near_miss_type": "not_a_type", "severity": 0.7,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", resp.StatusCode)
	}
}

func TestBudgetAndActionEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	resp := doJSON(t, s, http.MethodGet, "/api/v1/budget/fresh-session", "", nil)
	state := decode[model.BudgetState](t, resp)
	if state.SessionID != "fresh-session" || state.RiskBudget != 0.8 {
		t.Errorf("state = %+v", state)
	}

	resp = doJSON(t, s, http.MethodGet, "/api/v1/actions/999", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown action status = %d, want 404", resp.StatusCode)
	}
	resp = doJSON(t, s, http.MethodGet, "/api/v1/actions/abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestConfigReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("risk_thresholds:\n  checkpoint_trigger: 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, "")
	s.policyPath = path

	resp := doJSON(t, s, http.MethodPost, "/api/v1/config/reload", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d", resp.StatusCode)
	}

	// An invalid document leaves the active policy in force.
	if err := os.WriteFile(path, []byte("risk_thresholds:\n  checkpoint_trigger: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	resp = doJSON(t, s, http.MethodPost, "/api/v1/config/reload", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid reload status = %d, want 400", resp.StatusCode)
	}
	if got := s.policies.Active().RiskThresholds.CheckpointTrigger; got != 0.5 {
		t.Errorf("active trigger = %v, want 0.5 (previous valid reload)", got)
	}
}

func TestWebhookEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	resp := doJSON(t, s, http.MethodPost, "/api/v1/config/webhooks", "", map[string]any{
		"url":    "https://hooks.example.com/x",
		"events": []string{"checkpoint_triggered"},
		"secret": "hush",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decode[model.Webhook](t, resp)
	if created.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if created.Secret != "" {
		t.Error("secret must not be echoed")
	}

	resp = doJSON(t, s, http.MethodGet, "/api/v1/config/webhooks", "", nil)
	list := decode[map[string]any](t, resp)
	if list["count"].(float64) != 1 {
		t.Errorf("count = %v", list["count"])
	}

	resp = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/v1/config/webhooks/%d", created.ID), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp = doJSON(t, s, http.MethodDelete, "/api/v1/config/webhooks/999", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", resp.StatusCode)
	}
}

func TestAuditExport(t *testing.T) {
	s := newTestServer(t, "")
	doJSON(t, s, http.MethodPost, "/api/v1/evaluate", "", map[string]any{
		"session_id": "s1", "action": "lookup", "target": "t",
	})

	resp := doJSON(t, s, http.MethodGet, "/api/v1/audit/export", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	out := decode[map[string]any](t, resp)
	if out["count"].(float64) != 1 {
		t.Errorf("count = %v", out["count"])
	}

	resp = doJSON(t, s, http.MethodGet, "/api/v1/audit/export?from=yesterday", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad from status = %d, want 400", resp.StatusCode)
	}
}
