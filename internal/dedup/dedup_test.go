package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carepulse/carepulse/model"
)

func testExecutionResult() model.ExecutionResult {
	return model.ExecutionResult{
		RuleID:      "critical-lab-alert",
		ExecutionID: "exec-123",
		Success:     true,
		Matched:     true,
		ActionResults: []model.ActionResult{
			{ActionType: model.ActionNotify, Success: true, Result: "sent"},
		},
	}
}

// --- MemoryStore ---

func TestMemoryStore_CheckNotFound(t *testing.T) {
	store := NewMemoryStore()

	result, found, err := store.Check(context.Background(), "dedup:rule:evt1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestMemoryStore_StoreAndCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := FormatKey("critical-lab-alert", "evt-1")

	if err := store.Store(ctx, key, testExecutionResult(), 5*time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	result, found, err := store.Check(ctx, key)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if result.ExecutionID != "exec-123" {
		t.Errorf("ExecutionID = %q", result.ExecutionID)
	}
	if len(result.ActionResults) != 1 {
		t.Fatalf("ActionResults = %d, want 1", len(result.ActionResults))
	}
	if result.ActionResults[0].ActionType != model.ActionNotify {
		t.Errorf("ActionType = %q", result.ActionResults[0].ActionType)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "dedup:rule:evt1"

	if err := store.Store(ctx, key, testExecutionResult(), 1*time.Millisecond); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	result, found, err := store.Check(ctx, key)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil (expired)", result)
	}
}

func TestMemoryStore_OverwriteExistingKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "dedup:rule:evt1"

	first := testExecutionResult()
	first.ExecutionID = "exec-first"
	second := testExecutionResult()
	second.ExecutionID = "exec-second"

	_ = store.Store(ctx, key, first, 5*time.Minute)
	_ = store.Store(ctx, key, second, 5*time.Minute)

	result, found, err := store.Check(ctx, key)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false")
	}
	if result.ExecutionID != "exec-second" {
		t.Errorf("ExecutionID = %q, want exec-second", result.ExecutionID)
	}
}

func TestMemoryStore_Len(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}

	_ = store.Store(ctx, "key1", testExecutionResult(), 5*time.Minute)
	_ = store.Store(ctx, "key2", testExecutionResult(), 5*time.Minute)

	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestMemoryStore_ExpiredEntryRemovedOnCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "dedup:rule:evt1"

	_ = store.Store(ctx, key, testExecutionResult(), 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, _, _ = store.Check(ctx, key)

	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (expired entry removed)", store.Len())
	}
}

// --- RedisStore ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisStore_CheckNotFound(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)

	result, found, err := store.Check(context.Background(), "dedup:rule:evt1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestRedisStore_StoreAndCheck(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := FormatKey("critical-lab-alert", "evt-1")

	if err := store.Store(ctx, key, testExecutionResult(), 5*time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	result, found, err := store.Check(ctx, key)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if result.RuleID != "critical-lab-alert" {
		t.Errorf("RuleID = %q", result.RuleID)
	}
	if !result.Success {
		t.Error("Success = false")
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "dedup:rule:evt1"

	if err := store.Store(ctx, key, testExecutionResult(), 1*time.Second); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	mr.FastForward(2 * time.Second)

	result, found, err := store.Check(ctx, key)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestRedisStore_PreservesActionResults(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "dedup:rule:evt1"

	res := testExecutionResult()
	res.ActionResults = append(res.ActionResults, model.ActionResult{
		ActionType: model.ActionWebhook,
		Success:    false,
		Error:      "connection refused",
	})

	_ = store.Store(ctx, key, res, 5*time.Minute)
	result, _, _ := store.Check(ctx, key)

	if len(result.ActionResults) != 2 {
		t.Fatalf("ActionResults = %d, want 2", len(result.ActionResults))
	}
	if result.ActionResults[1].Error != "connection refused" {
		t.Errorf("Error = %q", result.ActionResults[1].Error)
	}
}

// --- FormatKey ---

func TestFormatKey(t *testing.T) {
	key := FormatKey("critical-lab-alert", "evt-123")
	want := "dedup:critical-lab-alert:evt-123"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
}
