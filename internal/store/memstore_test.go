package store

import (
	"context"
	"testing"
	"time"

	"github.com/carepulse/carepulse/model"
)

func testRecord(id string, started time.Time) model.ExecutionRecord {
	return model.ExecutionRecord{
		ExecutionID:    id,
		RuleID:         "critical-lab-alert",
		RuleVersion:    "1.0.0",
		TriggeredBy:    "event",
		PatientID:      "PT001",
		EventType:      model.TriggerLabResult,
		Status:         model.ExecutionStatusCompleted,
		MatchedTrigger: 0,
		ActionResults: []model.ActionResult{
			{ActionType: model.ActionNotify, Success: true},
		},
		Duration:  12 * time.Millisecond,
		StartedAt: started,
	}
}

func TestMemoryExecutionStore_CreateAndGet(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	rec := testRecord("exec-1", time.Now().UTC())

	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := s.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.RuleID != "critical-lab-alert" {
		t.Errorf("RuleID = %q", got.RuleID)
	}
	if got.Status != model.ExecutionStatusCompleted {
		t.Errorf("Status = %q", got.Status)
	}
	if len(got.ActionResults) != 1 {
		t.Errorf("ActionResults = %d, want 1", len(got.ActionResults))
	}
}

func TestMemoryExecutionStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	rec := testRecord("exec-1", time.Now().UTC())

	_ = s.Create(ctx, rec)
	err := s.Create(ctx, rec)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if envErr.Code != model.ErrConflict {
		t.Errorf("error code = %s, want %s", envErr.Code, model.ErrConflict)
	}
}

func TestMemoryExecutionStore_GetNotFound(t *testing.T) {
	s := NewMemoryExecutionStore()

	_, err := s.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not found error")
	}
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if envErr.Code != model.ErrNotFound {
		t.Errorf("error code = %s, want %s", envErr.Code, model.ErrNotFound)
	}
}

func TestMemoryExecutionStore_Find_newestFirst(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now().UTC()

	_ = s.Create(ctx, testRecord("exec-1", base.Add(-2*time.Hour)))
	_ = s.Create(ctx, testRecord("exec-2", base.Add(-1*time.Hour)))
	_ = s.Create(ctx, testRecord("exec-3", base))

	recs, err := s.Find(ctx, ExecutionFilters{})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Find returned %d records, want 3", len(recs))
	}
	if recs[0].ExecutionID != "exec-3" || recs[2].ExecutionID != "exec-1" {
		t.Errorf("order = [%s %s %s], want newest first", recs[0].ExecutionID, recs[1].ExecutionID, recs[2].ExecutionID)
	}
}

func TestMemoryExecutionStore_Find_filters(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	now := time.Now().UTC()

	a := testRecord("exec-1", now)
	b := testRecord("exec-2", now)
	b.RuleID = "sepsis-screen"
	b.PatientID = "PT002"
	c := testRecord("exec-3", now)
	c.Status = model.ExecutionStatusFailed

	_ = s.Create(ctx, a)
	_ = s.Create(ctx, b)
	_ = s.Create(ctx, c)

	byRule, _ := s.Find(ctx, ExecutionFilters{RuleID: "sepsis-screen"})
	if len(byRule) != 1 || byRule[0].ExecutionID != "exec-2" {
		t.Errorf("RuleID filter = %v", byRule)
	}

	byPatient, _ := s.Find(ctx, ExecutionFilters{PatientID: "PT001"})
	if len(byPatient) != 2 {
		t.Errorf("PatientID filter returned %d, want 2", len(byPatient))
	}

	byStatus, _ := s.Find(ctx, ExecutionFilters{Status: model.ExecutionStatusFailed})
	if len(byStatus) != 1 || byStatus[0].ExecutionID != "exec-3" {
		t.Errorf("Status filter = %v", byStatus)
	}
}

func TestMemoryExecutionStore_Find_limitOffset(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		rec := testRecord("", base.Add(time.Duration(-i)*time.Minute))
		rec.ExecutionID = string(rune('a' + i))
		_ = s.Create(ctx, rec)
	}

	page, err := s.Find(ctx, ExecutionFilters{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].ExecutionID != "b" || page[1].ExecutionID != "c" {
		t.Errorf("page = [%s %s], want [b c]", page[0].ExecutionID, page[1].ExecutionID)
	}

	empty, _ := s.Find(ctx, ExecutionFilters{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("offset past end returned %d records", len(empty))
	}
}

func TestMemoryExecutionStore_Audit(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()
	base := time.Now().UTC()

	_ = s.AppendAudit(ctx, model.AuditEntry{
		ID: "a2", ExecutionID: "exec-1", RuleID: "critical-lab-alert",
		Category: "action_dispatched", Timestamp: base.Add(time.Second),
	})
	_ = s.AppendAudit(ctx, model.AuditEntry{
		ID: "a1", ExecutionID: "exec-1", RuleID: "critical-lab-alert",
		Category: "trigger_matched", Timestamp: base,
	})

	entries, err := s.GetAudit(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetAudit error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("GetAudit returned %d entries, want 2", len(entries))
	}
	if entries[0].ID != "a1" || entries[1].ID != "a2" {
		t.Errorf("order = [%s %s], want oldest first", entries[0].ID, entries[1].ID)
	}

	none, _ := s.GetAudit(ctx, "missing")
	if len(none) != 0 {
		t.Errorf("GetAudit(missing) returned %d entries", len(none))
	}
}

func TestMemoryExecutionStore_Len(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	_ = s.Create(ctx, testRecord("exec-1", time.Now().UTC()))
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
