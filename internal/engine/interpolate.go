package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/carepulse/carepulse/model"
)

// tokenPattern matches {{name}} placeholders, including dotted paths.
var tokenPattern = regexp.MustCompile(`\{\{\s*([\w$][\w.\[\]$]*)\s*\}\}`)

// Interpolator substitutes {{token}} placeholders in action parameters from
// the execution context. Stateless and safe for concurrent use.
type Interpolator struct {
	fields *FieldResolver
}

// NewInterpolator creates an Interpolator.
func NewInterpolator(fields *FieldResolver) *Interpolator {
	return &Interpolator{fields: fields}
}

// Interpolate returns a copy of params with placeholders in string leaves
// substituted. Nested maps and slices are walked recursively; non-string
// leaves pass through unchanged. The input map is never mutated.
func (i *Interpolator) Interpolate(params map[string]any, ec *model.ExecutionContext) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = i.interpolateValue(v, ec)
	}
	return out
}

func (i *Interpolator) interpolateValue(v any, ec *model.ExecutionContext) any {
	switch val := v.(type) {
	case string:
		return i.interpolateString(val, ec)
	case map[string]any:
		return i.Interpolate(val, ec)
	case []any:
		out := make([]any, len(val))
		for idx, item := range val {
			out[idx] = i.interpolateValue(item, ec)
		}
		return out
	default:
		return v
	}
}

// interpolateString replaces each {{token}} with its resolved value.
// Unresolved tokens stay verbatim so a templating mistake is visible
// downstream instead of silently blanking out.
func (i *Interpolator) interpolateString(s string, ec *model.ExecutionContext) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		token := strings.TrimSpace(match[2 : len(match)-2])
		if val, ok := i.resolveToken(token, ec); ok {
			return formatValue(val)
		}
		return match
	})
}

// resolveToken resolves a placeholder name. Resolution order: exact key in
// the context data, then the well-known context fields, then a dotted-path
// lookup into the context data.
func (i *Interpolator) resolveToken(token string, ec *model.ExecutionContext) (any, bool) {
	if ec.Data != nil {
		if val, ok := ec.Data[token]; ok {
			return val, true
		}
	}

	switch token {
	case "executionId", "execution_id":
		return ec.ExecutionID, true
	case "ruleId", "rule_id":
		return ec.RuleID, true
	case "timestamp":
		return ec.Timestamp.Format(time.RFC3339), true
	case "patientId", "patient_id":
		if ec.PatientID != "" {
			return ec.PatientID, true
		}
	case "userId", "user_id":
		if ec.UserID != "" {
			return ec.UserID, true
		}
	case "eventType", "event_type":
		return string(ec.EventType), true
	case "triggeredBy", "triggered_by":
		return ec.TriggeredBy, true
	}

	if val, ok := i.fields.Resolve(ec.Data, token); ok {
		return val, true
	}
	return nil, false
}

// formatValue renders a resolved value into the template. Floats print
// without a trailing exponent or forced precision: 0.08 stays "0.08".
func formatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
