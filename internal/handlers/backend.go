package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/carepulse/internal/config"
	"github.com/carepulse/carepulse/internal/observability"
	"github.com/carepulse/carepulse/model"
)

// maxResponseBytes bounds backend and webhook response bodies.
const maxResponseBytes = 10 << 20 // 10MB

// BackendClient executes HTTP requests against the clinical backend API with
// circuit breaker protection and bounded retry. A single client is shared by
// the task and record handlers.
type BackendClient struct {
	cfg     config.BackendConfig
	client  *http.Client
	breaker *CircuitBreaker
	log     *zap.Logger
	metrics *observability.Metrics
}

// NewBackendClient creates a client for the configured clinical backend.
func NewBackendClient(cfg config.BackendConfig, log *zap.Logger, metrics *observability.Metrics) *BackendClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &BackendClient{
		cfg: cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(
			cfg.Breaker.FailureThreshold,
			cfg.Breaker.SuccessThreshold,
			cfg.Breaker.ResetTimeout,
		),
		log:     log,
		metrics: metrics,
	}
}

// Do executes one backend request with retry and returns the decoded JSON
// response body. Non-2xx responses are returned as errors. target labels the
// request in metrics (e.g. "tasks", "records").
func (c *BackendClient) Do(ctx context.Context, target, method, path string, payload any, ec *model.ExecutionContext) (map[string]any, error) {
	reqURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + path

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal body: %w", err)
		}
	}

	retryCfg := c.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method) || !retryCfg.IdempotentOnly

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.RecordBackendRetry(target)
			}
			delay := calculateBackoff(retryCfg, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		status, respBody, err := c.executeOnce(ctx, target, method, reqURL, bodyBytes, ec)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return nil, err
			}
			c.log.Debug("backend request retrying after error",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(status) && canRetry && attempt < maxAttempts-1 {
			lastErr = fmt.Errorf("backend: %s %s returned status %d", method, path, status)
			c.log.Debug("backend request retrying after status",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", status),
			)
			continue
		}

		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("backend: %s %s returned status %d", method, path, status)
		}

		result := map[string]any{"status_code": status}
		if len(respBody) > 0 {
			var parsed any
			if err := json.Unmarshal(respBody, &parsed); err == nil {
				result["body"] = parsed
			}
		}
		return result, nil
	}

	return nil, lastErr
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (c *BackendClient) executeOnce(ctx context.Context, target, method, reqURL string, bodyBytes []byte, ec *model.ExecutionContext) (int, []byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return 0, nil, fmt.Errorf("backend: %w", err)
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header = c.buildHeaders(method, ec)
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("backend: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return 0, nil, fmt.Errorf("backend: read response: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordBackendRequest(target, resp.StatusCode, time.Since(start))
	}

	// 4xx are caller errors, not infrastructure failures.
	if isServerError(resp.StatusCode) {
		c.breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		c.breaker.RecordSuccess()
	}

	return resp.StatusCode, respBody, nil
}

func (c *BackendClient) buildHeaders(method string, ec *model.ExecutionContext) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		h.Set("Authorization", "Bearer "+sanitizeHeader(c.cfg.AuthToken))
	}
	if ec != nil {
		h.Set("X-Correlation-Id", sanitizeHeader(ec.ExecutionID))
		if ec.UserID != "" {
			h.Set("X-Request-Subject", sanitizeHeader(ec.UserID))
		}
	}
	return h
}

// CreateTaskHandler creates a care task in the clinical backend.
type CreateTaskHandler struct {
	client *BackendClient
}

// NewCreateTaskHandler creates a create_task action handler.
func NewCreateTaskHandler(client *BackendClient) *CreateTaskHandler {
	return &CreateTaskHandler{client: client}
}

// Handle implements model.ActionHandler.
func (h *CreateTaskHandler) Handle(ctx context.Context, params map[string]any, ec *model.ExecutionContext) (any, error) {
	var p model.TaskParams
	if err := model.DecodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}
	if p.Title == "" {
		return nil, fmt.Errorf("create_task: title is required")
	}

	payload := map[string]any{
		"title":       p.Title,
		"description": p.Description,
		"priority":    p.Priority,
	}
	if p.AssigneeID != "" {
		payload["assignee_id"] = p.AssigneeID
	}
	if p.DueIn != "" {
		payload["due_in"] = p.DueIn
	}
	if ec != nil && ec.PatientID != "" {
		payload["patient_id"] = ec.PatientID
	}

	return h.client.Do(ctx, "tasks", http.MethodPost, "/tasks", payload, ec)
}

// UpdateRecordHandler patches a clinical record in the backend.
type UpdateRecordHandler struct {
	client *BackendClient
}

// NewUpdateRecordHandler creates an update_record action handler.
func NewUpdateRecordHandler(client *BackendClient) *UpdateRecordHandler {
	return &UpdateRecordHandler{client: client}
}

// Handle implements model.ActionHandler.
func (h *UpdateRecordHandler) Handle(ctx context.Context, params map[string]any, ec *model.ExecutionContext) (any, error) {
	var p model.RecordUpdateParams
	if err := model.DecodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("update_record: %w", err)
	}
	if p.RecordType == "" || p.RecordID == "" {
		return nil, fmt.Errorf("update_record: record_type and record_id are required")
	}
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("update_record: fields is required")
	}

	path := fmt.Sprintf("/records/%s/%s", url.PathEscape(p.RecordType), url.PathEscape(p.RecordID))
	return h.client.Do(ctx, "records", http.MethodPatch, path, p.Fields, ec)
}

// --- classification helpers ---

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// An open breaker means the endpoint is already known to be down.
	if strings.Contains(err.Error(), "circuit breaker is open") {
		return false
	}
	return true
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > max {
			return max
		}
	}
	return delay
}
