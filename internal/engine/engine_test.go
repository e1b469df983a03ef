package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/carepulse/carepulse/model"
)

func criticalLabRule() model.Rule {
	return model.Rule{
		ID:      "rule-critical-lab",
		Name:    "Critical lab result",
		Version: "3",
		Enabled: true,
		Triggers: []model.Trigger{
			{
				Type:       model.TriggerLabResult,
				Conditions: []model.Condition{cond("value", model.OpGreater, 0.04)},
			},
		},
		Actions: []model.Action{
			{
				Type:   model.ActionNotify,
				Params: map[string]any{"message": "Critical: {{value}}"},
			},
		},
	}
}

func testEngine(registry *HandlerRegistry, opts ...Option) *Engine {
	return NewEngine(registry, opts...)
}

func TestExecute_endToEndMatch(t *testing.T) {
	notify := &recordingHandler{result: "sent"}
	registry := NewHandlerRegistry()
	registry.Register(model.ActionNotify, notify)

	e := testEngine(registry)
	ec := testContext(model.TriggerLabResult, map[string]any{"value": 0.08})
	result := e.Execute(context.Background(), criticalLabRule(), ec)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if !result.Matched {
		t.Fatal("expected trigger match")
	}
	if result.MatchedTrigger != 0 {
		t.Errorf("MatchedTrigger = %d, want 0", result.MatchedTrigger)
	}
	if len(result.ActionResults) != 1 {
		t.Fatalf("ActionResults = %d, want 1", len(result.ActionResults))
	}
	if !result.ActionResults[0].Success {
		t.Error("action should have succeeded")
	}
	if got := notify.calls[0]["message"]; got != "Critical: 0.08" {
		t.Errorf("interpolated message = %q, want %q", got, "Critical: 0.08")
	}
}

func TestExecute_endToEndNoMatch(t *testing.T) {
	notify := &recordingHandler{}
	registry := NewHandlerRegistry()
	registry.Register(model.ActionNotify, notify)

	e := testEngine(registry)
	ec := testContext(model.TriggerLabResult, map[string]any{"value": 0.01})
	result := e.Execute(context.Background(), criticalLabRule(), ec)

	if !result.Success {
		t.Fatal("no-match run must still report success")
	}
	if result.Matched {
		t.Error("trigger should not have matched")
	}
	if len(result.ActionResults) != 0 {
		t.Errorf("ActionResults = %d, want 0", len(result.ActionResults))
	}
	if notify.callCount() != 0 {
		t.Error("no handler may run without a trigger match")
	}
	if result.Status() != model.ExecutionStatusNoMatch {
		t.Errorf("Status = %q, want %q", result.Status(), model.ExecutionStatusNoMatch)
	}
}

func TestExecute_disabledRule(t *testing.T) {
	notify := &recordingHandler{}
	registry := NewHandlerRegistry()
	registry.Register(model.ActionNotify, notify)

	rule := criticalLabRule()
	rule.Enabled = false

	e := testEngine(registry)
	ec := testContext(model.TriggerLabResult, map[string]any{"value": 0.08})
	result := e.Execute(context.Background(), rule, ec)

	if result.Success {
		t.Error("disabled rule must yield success=false")
	}
	if result.Error != model.DisabledRuleError() {
		t.Errorf("Error = %q", result.Error)
	}
	if len(result.ActionResults) != 0 {
		t.Error("disabled rule must attempt no actions")
	}
	if result.Status() != model.ExecutionStatusDisabled {
		t.Errorf("Status = %q, want %q", result.Status(), model.ExecutionStatusDisabled)
	}
}

func TestExecute_noApplicableTriggersFlagged(t *testing.T) {
	registry := NewHandlerRegistry()
	e := testEngine(registry)

	rule := criticalLabRule()
	ec := testContext(model.TriggerVitalsUpdated, map[string]any{"value": 0.08})
	result := e.Execute(context.Background(), rule, ec)

	if !result.Success {
		t.Fatal("zero applicable triggers is a no-op, not a failure")
	}
	if !result.NoTriggers {
		t.Error("NoTriggers should flag a rule with no applicable triggers")
	}
}

func TestExecute_failedActionFailsRun(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(model.ActionNotify, &recordingHandler{panics: true})
	registry.Register(model.ActionAudit, &recordingHandler{})

	rule := criticalLabRule()
	rule.Actions = append(rule.Actions, model.Action{Type: model.ActionAudit})

	e := testEngine(registry)
	ec := testContext(model.TriggerLabResult, map[string]any{"value": 0.08})
	result := e.Execute(context.Background(), rule, ec)

	if result.Success {
		t.Error("a failed action must fail the run")
	}
	if len(result.ActionResults) != 2 {
		t.Fatalf("ActionResults = %d, want 2 (isolation keeps the run going)", len(result.ActionResults))
	}
	if result.ActionResults[0].Success {
		t.Error("first result should be a failure")
	}
	if !result.ActionResults[1].Success {
		t.Error("second action should still complete")
	}
}

func TestExecute_maxExecutionTimeEnforced(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(model.ActionNotify, &recordingHandler{})

	rule := criticalLabRule()
	rule.Actions = []model.Action{
		{Type: model.ActionNotify, DelayMS: 10_000},
		{Type: model.ActionNotify},
	}

	e := testEngine(registry, WithMaxExecutionTime(30*time.Millisecond))
	ec := testContext(model.TriggerLabResult, map[string]any{"value": 0.08})

	start := time.Now()
	result := e.Execute(context.Background(), rule, ec)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("execution ran %v, cap not enforced", elapsed)
	}
	if result.Success {
		t.Error("timed-out run must fail")
	}
	if result.Error == "" {
		t.Error("timed-out run must carry a run-level error")
	}
}

func TestExecute_observerNotified(t *testing.T) {
	var mu sync.Mutex
	var seen []model.ExecutionResult
	obs := observerFunc(func(_ context.Context, _ *model.ExecutionContext, r model.ExecutionResult) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	})

	registry := NewHandlerRegistry()
	registry.Register(model.ActionNotify, &recordingHandler{})

	e := testEngine(registry, WithObserver(obs))
	ec := testContext(model.TriggerLabResult, map[string]any{"value": 0.08})
	e.Execute(context.Background(), criticalLabRule(), ec)

	if len(seen) != 1 {
		t.Fatalf("observer saw %d results, want 1", len(seen))
	}
	if !seen[0].Success {
		t.Error("observer should see the final result")
	}
}

// observerFunc adapts a function to ExecutionObserver.
type observerFunc func(ctx context.Context, ec *model.ExecutionContext, result model.ExecutionResult)

func (f observerFunc) OnExecution(ctx context.Context, ec *model.ExecutionContext, result model.ExecutionResult) {
	f(ctx, ec, result)
}

func TestExecute_concurrentExecutions(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(model.ActionNotify, &recordingHandler{})

	e := testEngine(registry)
	rule := criticalLabRule()
	rule.Actions[0].DelayMS = 10

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec := testContext(model.TriggerLabResult, map[string]any{"value": 0.08})
			result := e.Execute(context.Background(), rule, ec)
			if !result.Success {
				t.Errorf("concurrent execution failed: %s", result.Error)
			}
		}()
	}
	wg.Wait()

	// Delays suspend only their own execution: 20 concurrent runs with a
	// 10ms delay each must not take anywhere near 200ms.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("concurrent executions took %v, delays appear serialized across executions", elapsed)
	}
}
