package engine

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/carepulse/carepulse/model"
)

// numericEpsilon absorbs floating point noise in numeric equality checks.
const numericEpsilon = 1e-5

// evalOperator applies one operator to a resolved field value. The operators
// are pure functions of (fieldValue, expected, metadata); no instance state
// is involved, so the whole library is a single exhaustive switch.
//
// present reports whether field resolution found the value at all; only the
// existence operators care about the distinction between absent and nil.
//
// A returned error signals an evaluation problem (impossible numeric
// coercion, malformed expected value, bad regex). The condition evaluator
// catches it and scores the condition false.
func evalOperator(op model.Operator, fieldValue any, present bool, expected any, metadata map[string]any) (bool, error) {
	switch op {
	case model.OpEquals:
		return evalEquals(fieldValue, expected), nil
	case model.OpNotEquals:
		return !evalEquals(fieldValue, expected), nil

	case model.OpGreater:
		return evalNumericCompare(fieldValue, expected, func(a, b float64) bool { return a > b })
	case model.OpGreaterEq:
		return evalNumericCompare(fieldValue, expected, func(a, b float64) bool { return a >= b })
	case model.OpLess:
		return evalNumericCompare(fieldValue, expected, func(a, b float64) bool { return a < b })
	case model.OpLessEq:
		return evalNumericCompare(fieldValue, expected, func(a, b float64) bool { return a <= b })
	case model.OpBetween:
		return evalBetween(fieldValue, expected)

	case model.OpContains:
		return evalStringOp(fieldValue, expected, strings.Contains), nil
	case model.OpStartsWith:
		return evalStringOp(fieldValue, expected, strings.HasPrefix), nil
	case model.OpEndsWith:
		return evalStringOp(fieldValue, expected, strings.HasSuffix), nil
	case model.OpRegex:
		return evalRegex(fieldValue, expected, metadata)

	case model.OpIn:
		return evalIn(fieldValue, expected)
	case model.OpNotIn:
		matched, err := evalIn(fieldValue, expected)
		if err != nil {
			return false, err
		}
		return !matched, nil

	case model.OpExists:
		return present && fieldValue != nil, nil
	case model.OpNotExists:
		return !present || fieldValue == nil, nil

	case model.OpBloodPressureCritical:
		return evalBloodPressureCritical(fieldValue, metadata)
	case model.OpHeartRateCritical:
		return evalHeartRateCritical(fieldValue, metadata)
	case model.OpTemperatureCritical:
		return evalTemperatureCritical(fieldValue, metadata)
	case model.OpLabValueCritical:
		return evalLabValueCritical(fieldValue, expected, metadata)
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// evalEquals compares two values. When both coerce to numbers the comparison
// is epsilon-tolerant; otherwise it falls back to deep equality.
func evalEquals(fieldValue, expected any) bool {
	fn, ferr := toNumber(fieldValue)
	en, eerr := toNumber(expected)
	if ferr == nil && eerr == nil {
		return math.Abs(fn-en) < numericEpsilon
	}
	return reflect.DeepEqual(fieldValue, expected)
}

// evalNumericCompare coerces both operands to numbers and applies cmp. A
// value that cannot be coerced at all surfaces as an error for the evaluator
// to score false.
func evalNumericCompare(fieldValue, expected any, cmp func(a, b float64) bool) (bool, error) {
	fn, err := toNumber(fieldValue)
	if err != nil {
		return false, fmt.Errorf("field value: %w", err)
	}
	en, err := toNumber(expected)
	if err != nil {
		return false, fmt.Errorf("expected value: %w", err)
	}
	return cmp(fn, en), nil
}

// evalBetween checks inclusive containment in a [low, high] pair.
func evalBetween(fieldValue, expected any) (bool, error) {
	bounds, ok := toSlice(expected)
	if !ok || len(bounds) != 2 {
		return false, fmt.Errorf("between requires a [low, high] pair, got %v", expected)
	}
	fn, err := toNumber(fieldValue)
	if err != nil {
		return false, fmt.Errorf("field value: %w", err)
	}
	low, err := toNumber(bounds[0])
	if err != nil {
		return false, fmt.Errorf("lower bound: %w", err)
	}
	high, err := toNumber(bounds[1])
	if err != nil {
		return false, fmt.Errorf("upper bound: %w", err)
	}
	return fn >= low && fn <= high, nil
}

// evalStringOp applies a case-insensitive string predicate. A non-string
// field value is false, not an error.
func evalStringOp(fieldValue, expected any, pred func(s, substr string) bool) bool {
	fs, ok := fieldValue.(string)
	if !ok {
		return false
	}
	es, ok := expected.(string)
	if !ok {
		return false
	}
	return pred(strings.ToLower(fs), strings.ToLower(es))
}

// evalRegex matches the field value against the expected pattern.
// Case-insensitive by default; metadata["flags"] overrides the flag set
// (e.g. "" for case-sensitive, "im" for multi-line).
func evalRegex(fieldValue, expected any, metadata map[string]any) (bool, error) {
	fs, ok := fieldValue.(string)
	if !ok {
		return false, nil
	}
	pattern, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("regex requires a string pattern, got %T", expected)
	}

	flags := "i"
	if metadata != nil {
		if f, ok := metadata["flags"].(string); ok {
			flags = f
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("compile regex %q: %w", pattern, err)
	}
	return re.MatchString(fs), nil
}

// evalIn checks membership of the field value in the expected array. A
// non-array expected value is a definition error: the validator flags it at
// load time, and at runtime it scores the condition false via the error path.
func evalIn(fieldValue, expected any) (bool, error) {
	items, ok := toSlice(expected)
	if !ok {
		return false, fmt.Errorf("in/not_in require an array expected value, got %T", expected)
	}
	for _, item := range items {
		if evalEquals(fieldValue, item) {
			return true, nil
		}
	}
	return false, nil
}

// toNumber coerces a value to float64. Numbers and numeric strings coerce;
// anything else is a categorical failure reported as an error.
func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot coerce %T to number", v)
}

// toSlice normalizes []any and typed slices decoded from YAML/JSON.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}
