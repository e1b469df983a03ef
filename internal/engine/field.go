// Package engine implements the rule evaluation and action dispatch core:
// field resolution over nested event payloads, a closed operator library,
// condition trees with logical combinators, trigger matching, parameter
// interpolation, and sequential action dispatch with per-action failure
// isolation.
package engine

import (
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// FieldResolver extracts values from a nested data record given a path
// expression. It is stateless and safe for concurrent use.
type FieldResolver struct{}

// NewFieldResolver creates a FieldResolver.
func NewFieldResolver() *FieldResolver {
	return &FieldResolver{}
}

// Resolve evaluates a path against the record. The second return value
// reports presence: a missing segment, nil intermediate, or out-of-bounds
// index yields (nil, false) rather than an error.
//
// Two path forms are supported:
//   - dot notation with optional array indices: "vitals.bp", "items[2].code"
//   - a "$"-rooted expression evaluated against the whole record, for the
//     rare case of selecting within arrays/objects by predicate.
func (r *FieldResolver) Resolve(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if strings.HasPrefix(path, "$") {
		return r.query(data, path)
	}

	var current any = data
	for _, segment := range strings.Split(path, ".") {
		name, index, hasIndex, ok := splitSegment(segment)
		if !ok {
			return nil, false
		}

		m, isMap := current.(map[string]any)
		if !isMap {
			return nil, false
		}
		val, exists := m[name]
		if !exists || val == nil {
			return nil, false
		}
		current = val

		if hasIndex {
			arr, isSlice := current.([]any)
			if !isSlice || index < 0 || index >= len(arr) {
				return nil, false
			}
			current = arr[index]
			if current == nil {
				return nil, false
			}
		}
	}
	return current, true
}

// query evaluates a "$"-rooted expression against the full record. The "$"
// marker (and an optional following dot) is stripped and the remainder is
// evaluated as an expression with the record's top-level keys in scope. Any
// compile or evaluation failure degrades to absent, never an error.
func (r *FieldResolver) query(data map[string]any, path string) (val any, ok bool) {
	defer func() {
		if recover() != nil {
			val, ok = nil, false
		}
	}()

	src := strings.TrimPrefix(path, "$")
	src = strings.TrimPrefix(src, ".")
	if src == "" {
		return nil, false
	}

	out, err := expr.Eval(src, data)
	if err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// splitSegment parses a path segment of the form "name" or "name[3]".
func splitSegment(segment string) (name string, index int, hasIndex, ok bool) {
	open := strings.IndexByte(segment, '[')
	if open < 0 {
		if segment == "" {
			return "", 0, false, false
		}
		return segment, 0, false, true
	}
	if !strings.HasSuffix(segment, "]") || open == 0 {
		return "", 0, false, false
	}
	idx, err := strconv.Atoi(segment[open+1 : len(segment)-1])
	if err != nil {
		return "", 0, false, false
	}
	return segment[:open], idx, true, true
}
