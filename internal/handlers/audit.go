package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carepulse/carepulse/internal/store"
	"github.com/carepulse/carepulse/model"
)

// AuditHandler appends an audit trail entry to the execution store. Entries
// are correlated to the execution that produced them, so the trail for a run
// can be read back alongside its execution record.
type AuditHandler struct {
	store store.ExecutionStore
}

// NewAuditHandler creates an audit action handler.
func NewAuditHandler(st store.ExecutionStore) *AuditHandler {
	return &AuditHandler{store: st}
}

// Handle implements model.ActionHandler.
func (h *AuditHandler) Handle(ctx context.Context, params map[string]any, ec *model.ExecutionContext) (any, error) {
	var p model.AuditParams
	if err := model.DecodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if p.Event == "" {
		return nil, fmt.Errorf("audit: event is required")
	}

	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Category:  p.Event,
		Timestamp: time.Now().UTC(),
	}
	details := make(map[string]any)
	if p.Detail != "" {
		details["detail"] = p.Detail
	}
	if p.Subject != "" {
		details["subject"] = p.Subject
	}
	if len(details) > 0 {
		entry.Details = details
	}
	if ec != nil {
		entry.ExecutionID = ec.ExecutionID
		entry.RuleID = ec.RuleID
		entry.PatientID = ec.PatientID
		entry.UserID = ec.UserID
	}

	if err := h.store.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	return map[string]any{
		"audit_id": entry.ID,
		"event":    entry.Category,
	}, nil
}
