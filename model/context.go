package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExecutionContext carries the correlation identifiers, actor, timestamp, and
// event payload for one rule execution. It is created once per execution,
// immutable after construction, and never mutated by the engine; concurrent
// reads are safe.
type ExecutionContext struct {
	RuleID      string `json:"rule_id"`
	ExecutionID string `json:"execution_id"`
	// TriggeredBy names the upstream actor or system that produced the event.
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
	// EventType is the upstream classification compared against trigger types.
	EventType TriggerType `json:"event_type"`
	// Data is the event payload conditions are evaluated against.
	Data map[string]any `json:"data,omitempty"`
	// PatientID identifies the clinical subject of the event, when known.
	PatientID string `json:"patient_id,omitempty"`
	// UserID identifies the acting user, when the event was user-initiated.
	UserID string `json:"user_id,omitempty"`
}

// Validate checks that mandatory correlation fields are present.
func (ec *ExecutionContext) Validate() error {
	var errs []error
	if ec.RuleID == "" {
		errs = append(errs, fmt.Errorf("RuleID is required"))
	}
	if ec.ExecutionID == "" {
		errs = append(errs, fmt.Errorf("ExecutionID is required"))
	}
	if ec.EventType == "" {
		errs = append(errs, fmt.Errorf("EventType is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithExecutionContext attaches an ExecutionContext to the given context.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ec)
}

// ExecutionContextFrom extracts the ExecutionContext from the context, or
// returns nil if not present.
func ExecutionContextFrom(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(contextKey{}).(*ExecutionContext)
	return ec
}
