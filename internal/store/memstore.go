package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/carepulse/carepulse/model"
)

// MemoryExecutionStore is an in-memory ExecutionStore for testing and
// single-instance deployments.
type MemoryExecutionStore struct {
	mu      sync.RWMutex
	records map[string]model.ExecutionRecord // key: execution ID
	audit   map[string][]model.AuditEntry    // key: execution ID
}

// NewMemoryExecutionStore creates a new in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		records: make(map[string]model.ExecutionRecord),
		audit:   make(map[string][]model.AuditEntry),
	}
}

// Create persists a new execution record.
func (s *MemoryExecutionStore) Create(_ context.Context, rec model.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ExecutionID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("execution %q already exists", rec.ExecutionID),
		)
	}

	s.records[rec.ExecutionID] = rec
	return nil
}

// Get retrieves an execution record by ID.
func (s *MemoryExecutionStore) Get(_ context.Context, executionID string) (model.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[executionID]
	if !exists {
		return model.ExecutionRecord{}, model.NewNotFoundError(
			fmt.Sprintf("execution %q not found", executionID),
		)
	}
	return rec, nil
}

// Find returns execution records matching the filters, newest first.
func (s *MemoryExecutionStore) Find(_ context.Context, filters ExecutionFilters) ([]model.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ExecutionRecord
	for _, rec := range s.records {
		if filters.RuleID != "" && rec.RuleID != filters.RuleID {
			continue
		}
		if filters.PatientID != "" && rec.PatientID != filters.PatientID {
			continue
		}
		if filters.Status != "" && rec.Status != filters.Status {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.ExecutionRecord{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// AppendAudit adds an entry to an execution's audit trail.
func (s *MemoryExecutionStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit[entry.ExecutionID] = append(s.audit[entry.ExecutionID], entry)
	return nil
}

// GetAudit retrieves the audit trail for an execution, ordered by timestamp.
func (s *MemoryExecutionStore) GetAudit(_ context.Context, executionID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audit[executionID]
	result := make([]model.AuditEntry, len(entries))
	copy(result, entries)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Len returns the total number of records. For testing.
func (s *MemoryExecutionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
