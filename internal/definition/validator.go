package definition

import (
	"fmt"

	"github.com/carepulse/carepulse/model"
)

// Severity levels for validation findings.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// VError describes a single validation finding in a rule document.
type VError struct {
	Path     string `json:"path"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// HasErrors reports whether any finding is error-severity. Warning-only
// rule sets are still loadable.
func HasErrors(errs []VError) bool {
	for _, e := range errs {
		if e.Severity != SeverityWarning {
			return true
		}
	}
	return false
}

// Validator validates rules structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

var validTriggerTypes = map[model.TriggerType]bool{
	model.TriggerLabResult:       true,
	model.TriggerVitalsUpdated:   true,
	model.TriggerMedicationOrder: true,
	model.TriggerFormSubmitted:   true,
	model.TriggerAppointment:     true,
	model.TriggerAdmission:       true,
	model.TriggerDischarge:       true,
	model.TriggerManual:          true,
	model.TriggerSchedule:        true,
}

var validActionTypes = map[model.ActionType]bool{
	model.ActionNotify:       true,
	model.ActionCreateTask:   true,
	model.ActionUpdateRecord: true,
	model.ActionWebhook:      true,
	model.ActionAudit:        true,
	model.ActionEscalate:     true,
}

var validCombinators = map[model.Combinator]bool{
	model.CombinatorAnd: true,
	model.CombinatorOr:  true,
	model.CombinatorNot: true,
	model.CombinatorXor: true,
}

var validOperators = func() map[model.Operator]bool {
	m := make(map[model.Operator]bool)
	for _, op := range model.Operators() {
		m[op] = true
	}
	return m
}()

// membershipOperators require an array-valued expected value.
var membershipOperators = map[model.Operator]bool{
	model.OpIn:    true,
	model.OpNotIn: true,
}

// Validate checks all rules and flags duplicate rule IDs across the set.
func (v *Validator) Validate(rules []model.Rule) []VError {
	var errs []VError

	seen := make(map[string]int)
	for i, rule := range rules {
		prefix := fmt.Sprintf("rules[%d]", i)
		if prev, ok := seen[rule.ID]; ok && rule.ID != "" {
			errs = append(errs, VError{
				Path:     prefix + ".id",
				Code:     "DUPLICATE_ID",
				Severity: SeverityError,
				Message:  fmt.Sprintf("rule id %q already declared at rules[%d]", rule.ID, prev),
			})
		} else {
			seen[rule.ID] = i
		}
		errs = append(errs, v.validateRule(prefix, rule)...)
	}
	return errs
}

func (v *Validator) validateRule(prefix string, rule model.Rule) []VError {
	var errs []VError

	if rule.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Severity: SeverityError, Message: "id is required"})
	}
	if rule.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Severity: SeverityError, Message: "name is required"})
	}

	if len(rule.Triggers) == 0 {
		errs = append(errs, VError{
			Path:     prefix + ".triggers",
			Code:     "NO_TRIGGERS",
			Severity: SeverityWarning,
			Message:  "rule declares no triggers and will never match",
		})
	}
	if len(rule.Actions) == 0 {
		errs = append(errs, VError{
			Path:     prefix + ".actions",
			Code:     "NO_ACTIONS",
			Severity: SeverityWarning,
			Message:  "rule declares no actions",
		})
	}

	for i, t := range rule.Triggers {
		tp := fmt.Sprintf("%s.triggers[%d]", prefix, i)
		errs = append(errs, v.validateTrigger(tp, t)...)
	}
	for i, a := range rule.Actions {
		ap := fmt.Sprintf("%s.actions[%d]", prefix, i)
		errs = append(errs, v.validateAction(ap, a)...)
	}

	return errs
}

func (v *Validator) validateTrigger(prefix string, t model.Trigger) []VError {
	var errs []VError

	if t.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Severity: SeverityError, Message: "trigger type is required"})
	} else if !validTriggerTypes[t.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Severity: SeverityError, Message: fmt.Sprintf("unknown trigger type %q", t.Type)})
	}

	if t.Combinator != "" && !validCombinators[t.Combinator] {
		errs = append(errs, VError{Path: prefix + ".combinator", Code: "INVALID_ENUM", Severity: SeverityError, Message: fmt.Sprintf("unknown combinator %q", t.Combinator)})
	}

	for i, c := range t.Conditions {
		cp := fmt.Sprintf("%s.conditions[%d]", prefix, i)
		errs = append(errs, v.validateCondition(cp, c)...)
	}

	return errs
}

func (v *Validator) validateCondition(prefix string, c model.Condition) []VError {
	var errs []VError

	if c.IsGroup() {
		if c.Combinator != "" && !validCombinators[c.Combinator] {
			errs = append(errs, VError{Path: prefix + ".combinator", Code: "INVALID_ENUM", Severity: SeverityError, Message: fmt.Sprintf("unknown combinator %q", c.Combinator)})
		}
		for i, nested := range c.Conditions {
			np := fmt.Sprintf("%s.conditions[%d]", prefix, i)
			errs = append(errs, v.validateCondition(np, nested)...)
		}
		return errs
	}

	if c.Field == "" {
		errs = append(errs, VError{Path: prefix + ".field", Code: "REQUIRED", Severity: SeverityError, Message: "field is required"})
	}
	if c.Operator == "" {
		errs = append(errs, VError{Path: prefix + ".operator", Code: "REQUIRED", Severity: SeverityError, Message: "operator is required"})
	} else if !validOperators[c.Operator] {
		errs = append(errs, VError{Path: prefix + ".operator", Code: "INVALID_ENUM", Severity: SeverityError, Message: fmt.Sprintf("unknown operator %q", c.Operator)})
	}

	if membershipOperators[c.Operator] && !isArrayValue(c.Value) {
		errs = append(errs, VError{
			Path:     prefix + ".value",
			Code:     "NOT_ARRAY",
			Severity: SeverityError,
			Message:  fmt.Sprintf("operator %q requires an array value", c.Operator),
		})
	}

	if c.Operator == model.OpBetween {
		if s, ok := toBounds(c.Value); !ok || len(s) != 2 {
			errs = append(errs, VError{
				Path:     prefix + ".value",
				Code:     "BAD_BOUNDS",
				Severity: SeverityError,
				Message:  "operator \"between\" requires a two-element [low, high] array",
			})
		}
	}

	return errs
}

func (v *Validator) validateAction(prefix string, a model.Action) []VError {
	var errs []VError

	if a.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Severity: SeverityError, Message: "action type is required"})
	} else if !validActionTypes[a.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Severity: SeverityError, Message: fmt.Sprintf("unknown action type %q", a.Type)})
	}

	if a.DelayMS < 0 {
		errs = append(errs, VError{Path: prefix + ".delay", Code: "RANGE", Severity: SeverityError, Message: "delay must not be negative"})
	}

	for i, c := range a.Conditions {
		cp := fmt.Sprintf("%s.conditions[%d]", prefix, i)
		errs = append(errs, v.validateCondition(cp, c)...)
	}

	return errs
}

func isArrayValue(v any) bool {
	switch v.(type) {
	case []any, []string, []float64, []int:
		return true
	}
	return false
}

func toBounds(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []float64:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = n
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}
