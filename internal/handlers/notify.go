package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/carepulse/internal/observability"
	"github.com/carepulse/carepulse/model"
)

// NotifyHandler emits a clinical notification as a structured log record and
// a notification counter. Delivery to downstream channels (pager, dashboard,
// messaging) is handled by the log pipeline; the handler's contract is that
// the notification is durably recorded before it reports success.
type NotifyHandler struct {
	log     *zap.Logger
	metrics *observability.Metrics
}

// NewNotifyHandler creates a notify action handler.
func NewNotifyHandler(log *zap.Logger, metrics *observability.Metrics) *NotifyHandler {
	return &NotifyHandler{log: log, metrics: metrics}
}

// Handle implements model.ActionHandler.
func (h *NotifyHandler) Handle(ctx context.Context, params map[string]any, ec *model.ExecutionContext) (any, error) {
	var p model.NotifyParams
	if err := model.DecodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if p.Message == "" {
		return nil, fmt.Errorf("notify: message is required")
	}
	if p.Severity == "" {
		p.Severity = "info"
	}
	if p.Channel == "" {
		p.Channel = "dashboard"
	}

	fields := []zap.Field{
		zap.String("channel", p.Channel),
		zap.String("severity", p.Severity),
		zap.String("message", p.Message),
	}
	if p.Recipient != "" {
		fields = append(fields, zap.String("recipient", p.Recipient))
	}
	if len(p.CC) > 0 {
		fields = append(fields, zap.Strings("cc", p.CC))
	}

	observability.ExecutionLogger(ctx, h.log).Info("notification", fields...)
	if h.metrics != nil {
		h.metrics.RecordNotification(p.Channel, p.Severity)
	}

	return map[string]any{
		"channel":      p.Channel,
		"severity":     p.Severity,
		"recipient":    p.Recipient,
		"delivered_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// EscalateHandler is the escalation variant of notify: it pages rather than
// posts, and it refuses to downgrade below critical severity.
type EscalateHandler struct {
	notify *NotifyHandler
}

// NewEscalateHandler creates an escalate action handler.
func NewEscalateHandler(log *zap.Logger, metrics *observability.Metrics) *EscalateHandler {
	return &EscalateHandler{notify: NewNotifyHandler(log, metrics)}
}

// Handle implements model.ActionHandler.
func (h *EscalateHandler) Handle(ctx context.Context, params map[string]any, ec *model.ExecutionContext) (any, error) {
	merged := make(map[string]any, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	merged["severity"] = "critical"
	if _, ok := merged["channel"]; !ok {
		merged["channel"] = "pager"
	}
	return h.notify.Handle(ctx, merged, ec)
}
