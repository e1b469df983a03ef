// Package service orchestrates rule evaluation for incoming clinical events:
// rule lookup, deduplication, engine execution, and persistence of the
// resulting execution records.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carepulse/carepulse/internal/dedup"
	"github.com/carepulse/carepulse/internal/definition"
	"github.com/carepulse/carepulse/internal/engine"
	"github.com/carepulse/carepulse/internal/observability"
	"github.com/carepulse/carepulse/internal/store"
	"github.com/carepulse/carepulse/model"
)

// Event is the normalized clinical event delivered to the intake endpoint.
// Upstream classification (HL7 feeds, form submissions, device telemetry)
// into a TriggerType happens before the event reaches this service.
type Event struct {
	// EventID identifies one upstream delivery; redeliveries reuse it so
	// deduplication can suppress repeat executions. Empty means the caller
	// cannot correlate deliveries, and no deduplication applies.
	EventID   string            `json:"event_id,omitempty"`
	EventType model.TriggerType `json:"event_type"`
	// Source names the system or actor that produced the event.
	Source    string         `json:"source,omitempty"`
	PatientID string         `json:"patient_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// RuleExecution is the outcome of evaluating one rule against one event.
type RuleExecution struct {
	RuleID string                `json:"rule_id"`
	Result model.ExecutionResult `json:"result"`
	// Deduped marks a suppressed re-delivery: Result is the cached outcome
	// of the first execution, and no new execution record was written.
	Deduped bool `json:"deduped,omitempty"`
}

// EventOutcome summarizes one event intake: every enabled rule declaring a
// trigger of the event's type is evaluated, in registry order.
type EventOutcome struct {
	EventID    string          `json:"event_id"`
	EventType  model.TriggerType `json:"event_type"`
	Evaluated  int             `json:"evaluated"`
	Matched    int             `json:"matched"`
	Executions []RuleExecution `json:"executions"`
}

// ExecutionService wires the definition registry, the engine, and the
// persistence collaborators into the two execution paths: event intake and
// manual rule execution.
type ExecutionService struct {
	registry *definition.Registry
	engine   *engine.Engine
	store    store.ExecutionStore
	dedup    dedup.Store
	dedupTTL time.Duration
	log      *zap.Logger
	metrics  *observability.Metrics
}

// ServiceOption configures optional dependencies.
type ServiceOption func(*ExecutionService)

// WithDedup enables event-delivery deduplication with the given result TTL.
func WithDedup(d dedup.Store, ttl time.Duration) ServiceOption {
	return func(s *ExecutionService) {
		s.dedup = d
		s.dedupTTL = ttl
	}
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *ExecutionService) { s.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *ExecutionService) { s.metrics = m }
}

// NewExecutionService creates an ExecutionService with its required
// dependencies.
func NewExecutionService(
	registry *definition.Registry,
	eng *engine.Engine,
	st store.ExecutionStore,
	opts ...ServiceOption,
) *ExecutionService {
	s := &ExecutionService{
		registry: registry,
		engine:   eng,
		store:    st,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleEvent evaluates every enabled rule declaring a trigger of the
// event's type. Rules with no trigger of that type are never consulted.
// An event matching nothing is a routine outcome, not an error.
func (s *ExecutionService) HandleEvent(ctx context.Context, ev Event) (EventOutcome, error) {
	if ev.EventType == "" {
		return EventOutcome{}, model.NewBadRequestError("event_type is required")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	outcome := EventOutcome{
		EventID:    ev.EventID,
		EventType:  ev.EventType,
		Executions: []RuleExecution{},
	}

	for _, rule := range s.registry.ForTriggerType(ev.EventType) {
		// Disabled rules are skipped on the event path; the manual path
		// executes them and reports the disabled status instead.
		if !rule.Enabled {
			continue
		}

		outcome.Evaluated++
		exec := s.executeOne(ctx, rule, ev, true)
		if exec.Result.Matched {
			outcome.Matched++
		}
		outcome.Executions = append(outcome.Executions, exec)
	}

	return outcome, nil
}

// ExecuteRule runs a single rule by ID against the given event, regardless
// of redelivery. Disabled rules execute and report the disabled status.
func (s *ExecutionService) ExecuteRule(ctx context.Context, ruleID string, ev Event) (model.ExecutionResult, error) {
	rule, ok := s.registry.Get(ruleID)
	if !ok {
		return model.ExecutionResult{}, model.NewRuleNotFoundError(ruleID)
	}

	if ev.EventType == "" {
		ev.EventType = model.TriggerManual
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	exec := s.executeOne(ctx, rule, ev, false)
	return exec.Result, nil
}

// GetExecution returns an execution record with its audit trail.
func (s *ExecutionService) GetExecution(ctx context.Context, executionID string) (model.ExecutionRecord, []model.AuditEntry, error) {
	rec, err := s.store.Get(ctx, executionID)
	if err != nil {
		return model.ExecutionRecord{}, nil, err
	}
	audit, err := s.store.GetAudit(ctx, executionID)
	if err != nil {
		return model.ExecutionRecord{}, nil, err
	}
	return rec, audit, nil
}

// ListExecutions returns execution records matching the filters, newest first.
func (s *ExecutionService) ListExecutions(ctx context.Context, filters store.ExecutionFilters) ([]model.ExecutionRecord, error) {
	return s.store.Find(ctx, filters)
}

// Rules returns all loaded rules ordered by ID.
func (s *ExecutionService) Rules() []model.Rule {
	return s.registry.All()
}

// executeOne runs one rule against one event: dedup check, engine execution,
// record persistence, dedup store. Persistence is best-effort; a storage
// failure never discards the execution outcome.
func (s *ExecutionService) executeOne(ctx context.Context, rule model.Rule, ev Event, useDedup bool) RuleExecution {
	useDedup = useDedup && s.dedup != nil

	var key string
	if useDedup {
		key = dedup.FormatKey(rule.ID, ev.EventID)
		if cached := s.checkDedup(ctx, key); cached != nil {
			return RuleExecution{RuleID: rule.ID, Result: *cached, Deduped: true}
		}
	}

	startedAt := time.Now().UTC()
	ec := &model.ExecutionContext{
		RuleID:      rule.ID,
		ExecutionID: uuid.NewString(),
		TriggeredBy: ev.Source,
		Timestamp:   ev.Timestamp,
		EventType:   ev.EventType,
		Data:        ev.Data,
		PatientID:   ev.PatientID,
		UserID:      ev.UserID,
	}

	result := s.engine.Execute(ctx, rule, ec)

	s.persistRecord(ctx, rule, ec, result, startedAt)

	if useDedup {
		if err := s.dedup.Store(ctx, key, result, s.dedupTTL); err != nil {
			s.log.Warn("storing dedup entry failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	return RuleExecution{RuleID: rule.ID, Result: result}
}

// checkDedup looks up a cached result. Lookup failures degrade to a miss so
// a dedup backend outage never blocks rule execution.
func (s *ExecutionService) checkDedup(ctx context.Context, key string) *model.ExecutionResult {
	ctx, span := observability.StartSpan(ctx, "dedup.check")
	defer span.End()

	cached, found, err := s.dedup.Check(ctx, key)
	if err != nil {
		s.log.Warn("dedup check failed, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordDedupMiss()
		}
		return nil
	}

	span.SetAttributes(observability.AttrDedupHit.Bool(found))

	if !found {
		if s.metrics != nil {
			s.metrics.RecordDedupMiss()
		}
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordDedupHit()
	}
	s.log.Debug("duplicate event delivery suppressed", zap.String("key", key))
	return cached
}

func (s *ExecutionService) persistRecord(ctx context.Context, rule model.Rule, ec *model.ExecutionContext, result model.ExecutionResult, startedAt time.Time) {
	ctx, span := observability.StartSpan(ctx, "execution.persist",
		observability.AttrRuleID.String(rule.ID),
		observability.AttrExecutionID.String(ec.ExecutionID))

	rec := model.ExecutionRecord{
		ExecutionID:    ec.ExecutionID,
		RuleID:         rule.ID,
		RuleVersion:    rule.Version,
		TriggeredBy:    ec.TriggeredBy,
		PatientID:      ec.PatientID,
		UserID:         ec.UserID,
		EventType:      ec.EventType,
		Status:         result.Status(),
		MatchedTrigger: result.MatchedTrigger,
		ActionResults:  result.ActionResults,
		Error:          result.Error,
		Duration:       result.Duration,
		StartedAt:      startedAt,
	}

	err := s.store.Create(ctx, rec)
	observability.EndSpanWithError(span, err)
	if err != nil {
		s.log.Error("persisting execution record failed",
			zap.String("execution_id", ec.ExecutionID),
			zap.String("rule_id", rule.ID),
			zap.Error(err))
	}
}
