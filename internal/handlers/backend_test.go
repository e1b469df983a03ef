package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/carepulse/internal/config"
	"github.com/carepulse/carepulse/model"
)

func testBackendConfig(baseURL string) config.BackendConfig {
	return config.BackendConfig{
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		AuthToken: "svc-token",
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			BackoffInitial: time.Millisecond,
			BackoffMax:     5 * time.Millisecond,
		},
		Breaker: config.BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			ResetTimeout:     50 * time.Millisecond,
		},
	}
}

func TestCreateTaskHandler_postsTask(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" {
			t.Errorf("request = %s %s, want POST /tasks", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "task-9"})
	}))
	defer srv.Close()

	client := NewBackendClient(testBackendConfig(srv.URL), zap.NewNop(), nil)
	h := NewCreateTaskHandler(client)

	result, err := h.Handle(context.Background(), map[string]any{
		"title":       "Review troponin result",
		"description": "Critical value for PT001",
		"priority":    "high",
		"assignee_id": "dr-chen",
	}, testExecContext())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	out := result.(map[string]any)
	if out["status_code"] != http.StatusCreated {
		t.Errorf("status_code = %v, want 201", out["status_code"])
	}
	body, ok := out["body"].(map[string]any)
	if !ok || body["id"] != "task-9" {
		t.Errorf("body = %v, want task-9", out["body"])
	}

	if gotBody["title"] != "Review troponin result" {
		t.Errorf("title = %v", gotBody["title"])
	}
	if gotBody["patient_id"] != "PT001" {
		t.Errorf("patient_id = %v, want PT001 from execution context", gotBody["patient_id"])
	}
	if gotBody["assignee_id"] != "dr-chen" {
		t.Errorf("assignee_id = %v", gotBody["assignee_id"])
	}
	if gotAuth != "Bearer svc-token" {
		t.Errorf("Authorization = %q, want Bearer svc-token", gotAuth)
	}
	if gotCorrelation != "exec-42" {
		t.Errorf("X-Correlation-Id = %q, want exec-42", gotCorrelation)
	}
}

func TestCreateTaskHandler_missingTitle(t *testing.T) {
	client := NewBackendClient(testBackendConfig("http://127.0.0.1:0"), zap.NewNop(), nil)
	h := NewCreateTaskHandler(client)

	_, err := h.Handle(context.Background(), map[string]any{
		"priority": "high",
	}, testExecContext())
	if err == nil {
		t.Fatal("expected error for missing title")
	}
}

func TestUpdateRecordHandler_patchesRecord(t *testing.T) {
	var gotPath string
	var gotFields map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotFields)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewBackendClient(testBackendConfig(srv.URL), zap.NewNop(), nil)
	h := NewUpdateRecordHandler(client)

	_, err := h.Handle(context.Background(), map[string]any{
		"record_type": "encounter",
		"record_id":   "enc-123",
		"fields":      map[string]any{"flag": "sepsis_watch"},
	}, testExecContext())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if gotPath != "/records/encounter/enc-123" {
		t.Errorf("path = %q, want /records/encounter/enc-123", gotPath)
	}
	if gotFields["flag"] != "sepsis_watch" {
		t.Errorf("fields = %v", gotFields)
	}
}

func TestUpdateRecordHandler_requiresIdentity(t *testing.T) {
	client := NewBackendClient(testBackendConfig("http://127.0.0.1:0"), zap.NewNop(), nil)
	h := NewUpdateRecordHandler(client)

	cases := []map[string]any{
		{"record_id": "enc-1", "fields": map[string]any{"a": 1}},
		{"record_type": "encounter", "fields": map[string]any{"a": 1}},
		{"record_type": "encounter", "record_id": "enc-1"},
	}
	for i, params := range cases {
		if _, err := h.Handle(context.Background(), params, testExecContext()); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestBackendClient_retriesOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewBackendClient(testBackendConfig(srv.URL), zap.NewNop(), nil)
	h := NewCreateTaskHandler(client)

	result, err := h.Handle(context.Background(), map[string]any{
		"title": "retry me",
	}, testExecContext())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if result.(map[string]any)["status_code"] != http.StatusCreated {
		t.Errorf("status = %v, want 201", result.(map[string]any)["status_code"])
	}
}

func TestBackendClient_noRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewBackendClient(testBackendConfig(srv.URL), zap.NewNop(), nil)
	h := NewCreateTaskHandler(client)

	_, err := h.Handle(context.Background(), map[string]any{"title": "x"}, testExecContext())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx not retryable)", calls.Load())
	}
}

func TestBackendClient_breakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testBackendConfig(srv.URL)
	cfg.Retry.MaxAttempts = 1
	client := NewBackendClient(cfg, zap.NewNop(), nil)
	h := NewCreateTaskHandler(client)

	// Threshold is 3; each call records one failure.
	for i := 0; i < 3; i++ {
		h.Handle(context.Background(), map[string]any{"title": "x"}, testExecContext())
	}

	if s := client.breaker.State(); s != BreakerOpen {
		t.Fatalf("breaker state = %v, want Open", s)
	}

	_, err := h.Handle(context.Background(), map[string]any{"title": "x"}, testExecContext())
	if err == nil {
		t.Fatal("expected error while breaker is open")
	}
}

func TestBackendClient_respectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewBackendClient(testBackendConfig(srv.URL), zap.NewNop(), nil)
	h := NewCreateTaskHandler(client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Handle(ctx, map[string]any{"title": "x"}, testExecContext())
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSanitizeHeader(t *testing.T) {
	got := sanitizeHeader("value\r\nX-Injected: evil")
	if got != "valueX-Injected: evil" {
		t.Errorf("sanitizeHeader = %q", got)
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := config.RetryConfig{
		BackoffInitial:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        300 * time.Millisecond,
	}

	if d := calculateBackoff(cfg, 1); d != 100*time.Millisecond {
		t.Errorf("attempt 1 backoff = %v, want 100ms", d)
	}
	if d := calculateBackoff(cfg, 2); d != 200*time.Millisecond {
		t.Errorf("attempt 2 backoff = %v, want 200ms", d)
	}
	// Capped at max.
	if d := calculateBackoff(cfg, 5); d != 300*time.Millisecond {
		t.Errorf("attempt 5 backoff = %v, want 300ms (capped)", d)
	}
}

var _ model.ActionHandler = (*CreateTaskHandler)(nil)
var _ model.ActionHandler = (*UpdateRecordHandler)(nil)
var _ model.ActionHandler = (*NotifyHandler)(nil)
var _ model.ActionHandler = (*EscalateHandler)(nil)
var _ model.ActionHandler = (*WebhookHandler)(nil)
var _ model.ActionHandler = (*AuditHandler)(nil)
