package model

import "time"

// Execution status constants, recorded on persisted ExecutionRecords.
const (
	ExecutionStatusCompleted = "completed"
	ExecutionStatusNoMatch   = "no_match"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusDisabled  = "disabled"
)

// ActionResult is the normalized outcome of one attempted action. Actions
// skipped by a failed guard condition produce no ActionResult at all.
type ActionResult struct {
	ActionType ActionType    `json:"action_type"`
	Success    bool          `json:"success"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ExecutionResult is the overall outcome of one rule execution. Success is
// true iff every ActionResult succeeded, no run-level error occurred, and
// either a trigger matched or none applied (a no-op run is still a success).
type ExecutionResult struct {
	RuleID      string         `json:"rule_id"`
	ExecutionID string         `json:"execution_id"`
	Success     bool           `json:"success"`
	// Matched reports whether any trigger matched. A false value with
	// Success true is the explicit "ran, nothing matched" outcome.
	Matched bool `json:"matched"`
	// MatchedTrigger is the declaration-order index of the trigger that
	// matched, or -1.
	MatchedTrigger int `json:"matched_trigger"`
	// NoTriggers flags a rule that defines zero triggers applicable to the
	// event type. The run still succeeds, but callers should surface this
	// as a configuration smell rather than a routine no-op.
	NoTriggers    bool           `json:"no_triggers,omitempty"`
	ActionResults []ActionResult `json:"action_results"`
	Error         string         `json:"error,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

// Status derives the persisted status string for the result.
func (r ExecutionResult) Status() string {
	switch {
	case r.Error == disabledRuleError:
		return ExecutionStatusDisabled
	case r.Error != "" || !r.Success:
		return ExecutionStatusFailed
	case !r.Matched:
		return ExecutionStatusNoMatch
	default:
		return ExecutionStatusCompleted
	}
}

const disabledRuleError = "rule is disabled"

// DisabledRuleError is the run-level error message recorded when a disabled
// rule is executed.
func DisabledRuleError() string { return disabledRuleError }

// AuditEntry is one appended entry in an execution's audit trail, written by
// the audit action or by the service layer.
type AuditEntry struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	RuleID      string         `json:"rule_id"`
	PatientID   string         `json:"patient_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Category    string         `json:"category"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ExecutionRecord is the persisted audit record of one execution. The engine
// itself never persists; the service layer writes records through the
// ExecutionStore collaborator.
type ExecutionRecord struct {
	ExecutionID    string         `json:"execution_id"`
	RuleID         string         `json:"rule_id"`
	RuleVersion    string         `json:"rule_version"`
	TriggeredBy    string         `json:"triggered_by"`
	PatientID      string         `json:"patient_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	EventType      TriggerType    `json:"event_type"`
	Status         string         `json:"status"`
	MatchedTrigger int            `json:"matched_trigger"`
	ActionResults  []ActionResult `json:"action_results,omitempty"`
	Error          string         `json:"error,omitempty"`
	Duration       time.Duration  `json:"duration"`
	StartedAt      time.Time      `json:"started_at"`
}
