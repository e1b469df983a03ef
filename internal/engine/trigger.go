package engine

import (
	"github.com/carepulse/carepulse/model"
)

// TriggerMatcher checks a rule's triggers against an execution context.
type TriggerMatcher struct {
	conditions *ConditionEvaluator
}

// NewTriggerMatcher creates a TriggerMatcher.
func NewTriggerMatcher(conditions *ConditionEvaluator) *TriggerMatcher {
	return &TriggerMatcher{conditions: conditions}
}

// MatchOutcome reports the result of trigger matching.
type MatchOutcome struct {
	// Matched is true when some trigger matched.
	Matched bool
	// Index is the declaration-order index of the matching trigger, or -1.
	Index int
	// Applicable counts triggers whose type matched the event
	// classification, whether or not their conditions held. Zero applicable
	// triggers is a configuration smell the caller should flag, distinct
	// from a legitimate no-match.
	Applicable int
}

// Match walks triggers in declaration order. A trigger whose type does not
// match the context's event classification is skipped without evaluating its
// conditions. A type-matching trigger with no conditions matches outright.
// Triggers are implicitly OR-ed: the first match wins.
func (m *TriggerMatcher) Match(triggers []model.Trigger, ec *model.ExecutionContext) MatchOutcome {
	outcome := MatchOutcome{Index: -1}

	for i, trigger := range triggers {
		if trigger.Type != ec.EventType {
			continue
		}
		outcome.Applicable++

		if len(trigger.Conditions) == 0 {
			outcome.Matched = true
			outcome.Index = i
			return outcome
		}

		combinator := trigger.Combinator
		if combinator == "" {
			combinator = model.CombinatorAnd
		}
		if m.conditions.Evaluate(trigger.Conditions, ec.Data, combinator) {
			outcome.Matched = true
			outcome.Index = i
			return outcome
		}
	}
	return outcome
}
