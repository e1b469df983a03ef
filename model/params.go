package model

import (
	"encoding/json"
	"fmt"
)

// Typed parameter structs for the built-in action types. Handlers decode the
// free-form interpolated parameter map into one of these to get required-field
// checking, while the raw map remains available for handler-specific extras.

// NotifyParams configures the notify action.
type NotifyParams struct {
	Message   string   `json:"message"`
	Severity  string   `json:"severity,omitempty"`
	Channel   string   `json:"channel,omitempty"`
	Recipient string   `json:"recipient,omitempty"`
	CC        []string `json:"cc,omitempty"`
}

// TaskParams configures the create_task action.
type TaskParams struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueIn       string `json:"due_in,omitempty"`
}

// RecordUpdateParams configures the update_record action.
type RecordUpdateParams struct {
	RecordType string         `json:"record_type"`
	RecordID   string         `json:"record_id"`
	Fields     map[string]any `json:"fields"`
}

// WebhookParams configures the webhook action.
type WebhookParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

// AuditParams configures the audit action.
type AuditParams struct {
	Event   string `json:"event"`
	Detail  string `json:"detail,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// DecodeParams decodes an interpolated parameter map into a typed parameter
// struct via JSON round-trip. Unknown keys are ignored, which is what keeps
// the free-form escape hatch open.
func DecodeParams(params map[string]any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
