// Package store persists execution records for the audit trail.
package store

import (
	"context"

	"github.com/carepulse/carepulse/model"
)

// ExecutionStore persists rule execution records.
type ExecutionStore interface {
	// Create persists a new execution record. Returns CONFLICT if the
	// execution ID already exists.
	Create(ctx context.Context, rec model.ExecutionRecord) error

	// Get retrieves an execution record by ID. Returns NOT_FOUND if the
	// record doesn't exist.
	Get(ctx context.Context, executionID string) (model.ExecutionRecord, error)

	// Find returns execution records matching the filters, newest first.
	Find(ctx context.Context, filters ExecutionFilters) ([]model.ExecutionRecord, error)

	// AppendAudit adds an entry to an execution's audit trail.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// GetAudit retrieves the audit trail for an execution, oldest first.
	GetAudit(ctx context.Context, executionID string) ([]model.AuditEntry, error)
}

// ExecutionFilters are optional filters for listing execution records.
type ExecutionFilters struct {
	RuleID    string
	PatientID string
	Status    string
	Limit     int
	Offset    int
}
