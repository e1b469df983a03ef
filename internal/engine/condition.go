package engine

import (
	"go.uber.org/zap"

	"github.com/carepulse/carepulse/model"
)

// ConditionEvaluator evaluates condition trees against an event payload.
// It is read-only after construction and safe for concurrent use.
type ConditionEvaluator struct {
	fields *FieldResolver
	logger *zap.Logger
}

// NewConditionEvaluator creates a ConditionEvaluator. A nil logger disables
// per-condition debug logging.
func NewConditionEvaluator(fields *FieldResolver, logger *zap.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConditionEvaluator{fields: fields, logger: logger}
}

// Evaluate folds a list of conditions into one boolean under the given
// combinator. An empty condition list is vacuously true under AND and NOT,
// false under OR and XOR.
//
// Combinator semantics: AND = all true; OR = any true; NOT = none true
// (all supplied conditions false, not single-condition negation); XOR =
// exactly one true.
func (e *ConditionEvaluator) Evaluate(conditions []model.Condition, data map[string]any, combinator model.Combinator) bool {
	if combinator == "" {
		combinator = model.CombinatorAnd
	}

	trueCount := 0
	for _, cond := range conditions {
		ok := e.evaluateOne(cond, data)
		switch combinator {
		case model.CombinatorAnd:
			if !ok {
				return false
			}
		case model.CombinatorOr:
			if ok {
				return true
			}
		case model.CombinatorNot:
			if ok {
				return false
			}
		case model.CombinatorXor:
			if ok {
				trueCount++
				if trueCount > 1 {
					return false
				}
			}
		default:
			e.logger.Warn("unknown combinator, treating as and",
				zap.String("combinator", string(combinator)))
			if !ok {
				return false
			}
		}
	}

	switch combinator {
	case model.CombinatorOr:
		return false
	case model.CombinatorXor:
		return trueCount == 1
	default:
		return true
	}
}

// evaluateOne scores a single condition. Group nodes recurse with their own
// combinator. Any resolution or operator error degrades to false: a single
// malformed condition fails closed instead of aborting the whole evaluation.
func (e *ConditionEvaluator) evaluateOne(cond model.Condition, data map[string]any) bool {
	if cond.IsGroup() {
		return e.Evaluate(cond.Conditions, data, cond.EffectiveCombinator())
	}

	fieldValue, present := e.fields.Resolve(data, cond.Field)
	result, err := evalOperator(cond.Operator, fieldValue, present, cond.Value, cond.Metadata)
	if err != nil {
		e.logger.Debug("condition scored false on evaluation error",
			zap.String("field", cond.Field),
			zap.String("operator", string(cond.Operator)),
			zap.Error(err))
		return false
	}
	return result
}
