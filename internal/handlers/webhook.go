package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/carepulse/internal/config"
	"github.com/carepulse/carepulse/internal/observability"
	"github.com/carepulse/carepulse/model"
)

// WebhookHandler delivers rule events to external HTTP endpoints. Each
// destination host gets its own circuit breaker so one slow integration
// cannot shut out the rest.
type WebhookHandler struct {
	cfg     config.WebhookConfig
	client  *http.Client
	log     *zap.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewWebhookHandler creates a webhook action handler.
func NewWebhookHandler(cfg config.WebhookConfig, log *zap.Logger, metrics *observability.Metrics) *WebhookHandler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookHandler{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		log:      log,
		metrics:  metrics,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Handle implements model.ActionHandler.
func (h *WebhookHandler) Handle(ctx context.Context, params map[string]any, ec *model.ExecutionContext) (any, error) {
	var p model.WebhookParams
	if err := model.DecodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid url %q", p.URL)
	}
	method := p.Method
	if method == "" {
		method = http.MethodPost
	}

	body := p.Body
	if body == nil {
		// Default payload: the event that fired the rule.
		body = map[string]any{}
		if ec != nil {
			body["rule_id"] = ec.RuleID
			body["execution_id"] = ec.ExecutionID
			body["event_type"] = string(ec.EventType)
			body["data"] = ec.Data
		}
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal body: %w", err)
	}

	breaker := h.breakerFor(u.Host)

	retryCfg := h.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if h.metrics != nil {
				h.metrics.RecordBackendRetry(u.Host)
			}
			delay := calculateBackoff(retryCfg, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		status, err := h.deliverOnce(ctx, breaker, method, p, u.Host, bodyBytes, ec)
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				return nil, err
			}
			h.log.Debug("webhook delivery retrying after error",
				zap.String("host", u.Host),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(status) && attempt < maxAttempts-1 {
			lastErr = fmt.Errorf("webhook: %s returned status %d", u.Host, status)
			h.log.Debug("webhook delivery retrying after status",
				zap.String("host", u.Host),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", status),
			)
			continue
		}

		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("webhook: %s returned status %d", u.Host, status)
		}

		return map[string]any{
			"url":         p.URL,
			"status_code": status,
			"attempts":    attempt + 1,
		}, nil
	}

	return nil, lastErr
}

func (h *WebhookHandler) deliverOnce(ctx context.Context, breaker *CircuitBreaker, method string, p model.WebhookParams, host string, bodyBytes []byte, ec *model.ExecutionContext) (int, error) {
	if err := breaker.Allow(); err != nil {
		h.setBreakerGauge(host, breaker)
		return 0, fmt.Errorf("webhook: %s: %w", host, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(sanitizeHeader(k), sanitizeHeader(v))
	}
	if ec != nil {
		req.Header.Set("X-Correlation-Id", sanitizeHeader(ec.ExecutionID))
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		breaker.RecordFailure()
		h.setBreakerGauge(host, breaker)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused; webhook responses are
	// not surfaced to rules.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if h.metrics != nil {
		h.metrics.RecordBackendRequest(host, resp.StatusCode, time.Since(start))
	}

	if isServerError(resp.StatusCode) {
		breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		breaker.RecordSuccess()
	}
	h.setBreakerGauge(host, breaker)

	return resp.StatusCode, nil
}

// breakerFor returns the circuit breaker for a destination host, creating it
// on first use.
func (h *WebhookHandler) breakerFor(host string) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cb, ok := h.breakers[host]; ok {
		return cb
	}
	cb := NewCircuitBreaker(
		h.cfg.Breaker.FailureThreshold,
		h.cfg.Breaker.SuccessThreshold,
		h.cfg.Breaker.ResetTimeout,
	)
	h.breakers[host] = cb
	return cb
}

func (h *WebhookHandler) setBreakerGauge(host string, breaker *CircuitBreaker) {
	if h.metrics != nil {
		h.metrics.SetWebhookCircuitBreakerState(host, breaker.State().GaugeValue())
	}
}
