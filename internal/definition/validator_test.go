package definition

import (
	"testing"

	"github.com/carepulse/carepulse/model"
)

func validRule() model.Rule {
	return model.Rule{
		ID:      "critical-lab-alert",
		Name:    "Critical Lab Alert",
		Version: "1.0.0",
		Enabled: true,
		Triggers: []model.Trigger{
			{
				Type: model.TriggerLabResult,
				Conditions: []model.Condition{
					{Field: "test", Operator: model.OpEquals, Value: "troponin"},
					{Field: "value", Operator: model.OpGreater, Value: 0.04},
				},
			},
		},
		Actions: []model.Action{
			{Type: model.ActionNotify, Params: map[string]any{"channel": "page"}},
		},
	}
}

func findError(t *testing.T, errs []VError, code string) *VError {
	t.Helper()
	for i := range errs {
		if errs[i].Code == code {
			return &errs[i]
		}
	}
	return nil
}

func TestValidator_valid_rule(t *testing.T) {
	v := NewValidator()
	errs := v.Validate([]model.Rule{validRule()})
	if len(errs) != 0 {
		t.Fatalf("Validate() = %v, want no findings", errs)
	}
}

func TestValidator_missing_id_and_name(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.ID = ""
	rule.Name = ""

	errs := v.Validate([]model.Rule{rule})
	required := 0
	for _, e := range errs {
		if e.Code == "REQUIRED" {
			required++
		}
	}
	if required != 2 {
		t.Errorf("got %d REQUIRED findings, want 2: %v", required, errs)
	}
}

func TestValidator_duplicate_ids(t *testing.T) {
	v := NewValidator()
	errs := v.Validate([]model.Rule{validRule(), validRule()})
	if e := findError(t, errs, "DUPLICATE_ID"); e == nil {
		t.Fatalf("expected DUPLICATE_ID finding, got %v", errs)
	}
}

func TestValidator_unknown_trigger_type(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Triggers[0].Type = "bed_turned"

	errs := v.Validate([]model.Rule{rule})
	e := findError(t, errs, "INVALID_ENUM")
	if e == nil {
		t.Fatalf("expected INVALID_ENUM finding, got %v", errs)
	}
	if e.Severity != SeverityError {
		t.Errorf("Severity = %q, want error", e.Severity)
	}
}

func TestValidator_unknown_operator(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Triggers[0].Conditions[0].Operator = "approximately"

	errs := v.Validate([]model.Rule{rule})
	if findError(t, errs, "INVALID_ENUM") == nil {
		t.Fatalf("expected INVALID_ENUM finding, got %v", errs)
	}
}

func TestValidator_unknown_action_type(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Actions[0].Type = "launch_rocket"

	errs := v.Validate([]model.Rule{rule})
	if findError(t, errs, "INVALID_ENUM") == nil {
		t.Fatalf("expected INVALID_ENUM finding, got %v", errs)
	}
}

func TestValidator_in_requires_array(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Triggers[0].Conditions = []model.Condition{
		{Field: "unit", Operator: model.OpIn, Value: "icu"},
	}

	errs := v.Validate([]model.Rule{rule})
	if findError(t, errs, "NOT_ARRAY") == nil {
		t.Fatalf("expected NOT_ARRAY finding, got %v", errs)
	}

	rule.Triggers[0].Conditions[0].Value = []any{"icu", "ed"}
	errs = v.Validate([]model.Rule{rule})
	if findError(t, errs, "NOT_ARRAY") != nil {
		t.Errorf("array value should pass, got %v", errs)
	}
}

func TestValidator_between_requires_two_bounds(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Triggers[0].Conditions = []model.Condition{
		{Field: "value", Operator: model.OpBetween, Value: []any{70}},
	}

	errs := v.Validate([]model.Rule{rule})
	if findError(t, errs, "BAD_BOUNDS") == nil {
		t.Fatalf("expected BAD_BOUNDS finding, got %v", errs)
	}

	rule.Triggers[0].Conditions[0].Value = []any{70, 100}
	errs = v.Validate([]model.Rule{rule})
	if findError(t, errs, "BAD_BOUNDS") != nil {
		t.Errorf("two-element bounds should pass, got %v", errs)
	}
}

func TestValidator_negative_delay(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Actions[0].DelayMS = -10

	errs := v.Validate([]model.Rule{rule})
	if findError(t, errs, "RANGE") == nil {
		t.Fatalf("expected RANGE finding, got %v", errs)
	}
}

func TestValidator_empty_triggers_warns(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Triggers = nil

	errs := v.Validate([]model.Rule{rule})
	e := findError(t, errs, "NO_TRIGGERS")
	if e == nil {
		t.Fatalf("expected NO_TRIGGERS finding, got %v", errs)
	}
	if e.Severity != SeverityWarning {
		t.Errorf("Severity = %q, want warning", e.Severity)
	}
	if HasErrors(errs) {
		t.Error("warning-only findings should not count as errors")
	}
}

func TestValidator_nested_group_conditions(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Triggers[0].Conditions = []model.Condition{
		{
			Combinator: model.CombinatorOr,
			Conditions: []model.Condition{
				{Field: "value", Operator: model.OpGreater, Value: 10},
				{Field: "value", Operator: "wobbly", Value: 1},
			},
		},
	}

	errs := v.Validate([]model.Rule{rule})
	e := findError(t, errs, "INVALID_ENUM")
	if e == nil {
		t.Fatalf("expected INVALID_ENUM inside nested group, got %v", errs)
	}
	if e.Path != "rules[0].triggers[0].conditions[0].conditions[1].operator" {
		t.Errorf("Path = %q", e.Path)
	}
}

func TestValidator_action_guard_conditions(t *testing.T) {
	v := NewValidator()
	rule := validRule()
	rule.Actions[0].Conditions = []model.Condition{
		{Field: "severity", Operator: "nope", Value: "high"},
	}

	errs := v.Validate([]model.Rule{rule})
	if findError(t, errs, "INVALID_ENUM") == nil {
		t.Fatalf("expected INVALID_ENUM on action guard condition, got %v", errs)
	}
}

func TestHasErrors(t *testing.T) {
	if HasErrors(nil) {
		t.Error("HasErrors(nil) = true, want false")
	}
	warn := []VError{{Code: "NO_TRIGGERS", Severity: SeverityWarning}}
	if HasErrors(warn) {
		t.Error("HasErrors(warnings) = true, want false")
	}
	mixed := append(warn, VError{Code: "REQUIRED", Severity: SeverityError})
	if !HasErrors(mixed) {
		t.Error("HasErrors(mixed) = false, want true")
	}
}
