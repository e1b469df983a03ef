package model

// TriggerType classifies the clinical event kinds a trigger can react to.
type TriggerType string

// Known trigger types. The mapping from raw upstream events (HL7 feeds, form
// submissions, device telemetry) to these classifications happens before the
// engine is invoked.
const (
	TriggerLabResult       TriggerType = "lab_result"
	TriggerVitalsUpdated   TriggerType = "vitals_updated"
	TriggerMedicationOrder TriggerType = "medication_order"
	TriggerFormSubmitted   TriggerType = "form_submitted"
	TriggerAppointment     TriggerType = "appointment"
	TriggerAdmission       TriggerType = "admission"
	TriggerDischarge       TriggerType = "discharge"
	TriggerManual          TriggerType = "manual"
	TriggerSchedule        TriggerType = "schedule"
)

// ActionType identifies the effect an action produces when dispatched.
type ActionType string

// Known action types. Each maps to a registered ActionHandler; the engine
// only knows the handler contract, not what the effector does.
const (
	ActionNotify       ActionType = "notify"
	ActionCreateTask   ActionType = "create_task"
	ActionUpdateRecord ActionType = "update_record"
	ActionWebhook      ActionType = "webhook"
	ActionAudit        ActionType = "audit"
	ActionEscalate     ActionType = "escalate"
)

// Combinator joins a list of conditions into a single boolean outcome.
type Combinator string

const (
	// CombinatorAnd is true when every condition is true. The default.
	CombinatorAnd Combinator = "and"
	// CombinatorOr is true when at least one condition is true.
	CombinatorOr Combinator = "or"
	// CombinatorNot is true when none of the conditions is true.
	CombinatorNot Combinator = "not"
	// CombinatorXor is true when exactly one condition is true.
	CombinatorXor Combinator = "xor"
)

// Operator names a comparison or predicate applied to a resolved field value.
type Operator string

// The closed operator set. Adding a member requires extending the evaluator's
// exhaustive switch in internal/engine.
const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpGreater    Operator = "greater_than"
	OpGreaterEq  Operator = "greater_than_or_equal"
	OpLess       Operator = "less_than"
	OpLessEq     Operator = "less_than_or_equal"
	OpBetween    Operator = "between"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"

	// Clinical threshold operators. Each is true when the resolved value is
	// outside the safe range, not when it merely touches a boundary.
	OpBloodPressureCritical Operator = "blood_pressure_critical"
	OpHeartRateCritical     Operator = "heart_rate_critical"
	OpTemperatureCritical   Operator = "temperature_critical"
	OpLabValueCritical      Operator = "lab_value_critical"
)

// Operators lists every member of the closed operator set, in a stable order.
// Used by the definition validator and by documentation endpoints.
func Operators() []Operator {
	return []Operator{
		OpEquals, OpNotEquals,
		OpGreater, OpGreaterEq, OpLess, OpLessEq, OpBetween,
		OpContains, OpStartsWith, OpEndsWith, OpRegex,
		OpIn, OpNotIn,
		OpExists, OpNotExists,
		OpBloodPressureCritical, OpHeartRateCritical,
		OpTemperatureCritical, OpLabValueCritical,
	}
}

// Rule is a declarative automation document: a set of triggers that decide
// whether an incoming event applies, and an ordered list of actions to
// dispatch when one does. Rules are immutable for the duration of an
// execution; mutation belongs to the owning management layer.
type Rule struct {
	ID       string         `yaml:"id"       json:"id"`
	Name     string         `yaml:"name"     json:"name"`
	Version  string         `yaml:"version"  json:"version"`
	Enabled  bool           `yaml:"enabled"  json:"enabled"`
	Triggers []Trigger      `yaml:"triggers" json:"triggers"`
	Actions  []Action       `yaml:"actions"  json:"actions"`
	Metadata map[string]any `yaml:"metadata" json:"metadata,omitempty"`

	// Checksum and SourceFile are computed at load time, not part of the document.
	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// Trigger is a predicate over an event's classification plus optional data
// conditions. A trigger with no conditions matches on type alone.
type Trigger struct {
	Type       TriggerType `yaml:"type"       json:"type"`
	Conditions []Condition `yaml:"conditions" json:"conditions,omitempty"`
	// Combinator joins Conditions; empty means CombinatorAnd.
	Combinator Combinator     `yaml:"combinator" json:"combinator,omitempty"`
	Metadata   map[string]any `yaml:"metadata"   json:"metadata,omitempty"`
}

// Condition is a single field/operator/value test. A condition carrying
// Conditions is a group node: it recurses with its own combinator instead of
// evaluating Field/Operator/Value as a leaf.
type Condition struct {
	Field    string   `yaml:"field"    json:"field,omitempty"`
	Operator Operator `yaml:"operator" json:"operator,omitempty"`
	// Value is the expected operand: string, number, bool, or an array
	// thereof (required for in/not_in and between).
	Value any `yaml:"value" json:"value,omitempty"`
	// Metadata carries operator-specific options such as regex flags
	// ("flags"), a temperature unit ("unit"), or a lab test name ("test").
	Metadata map[string]any `yaml:"metadata" json:"metadata,omitempty"`

	Conditions []Condition `yaml:"conditions" json:"conditions,omitempty"`
	Combinator Combinator  `yaml:"combinator" json:"combinator,omitempty"`
}

// IsGroup reports whether the condition is a nested group rather than a leaf.
func (c Condition) IsGroup() bool { return len(c.Conditions) > 0 }

// EffectiveCombinator returns the condition group's combinator, defaulting to AND.
func (c Condition) EffectiveCombinator() Combinator {
	if c.Combinator == "" {
		return CombinatorAnd
	}
	return c.Combinator
}

// Action is a declared effect: a type tag resolved against the handler
// registry, a parameter map interpolated at dispatch time, optional guard
// conditions, and an optional delay in milliseconds.
type Action struct {
	Type       ActionType     `yaml:"type"       json:"type"`
	Params     map[string]any `yaml:"params"     json:"params,omitempty"`
	Conditions []Condition    `yaml:"conditions" json:"conditions,omitempty"`
	DelayMS    int64          `yaml:"delay"      json:"delay,omitempty"`
}
