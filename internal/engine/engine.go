package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carepulse/carepulse/model"
)

// runState tracks the orchestrator's progress through a single execution.
type runState int

const (
	runNotStarted runState = iota
	runRunning
	runTerminated
)

// ExecutionObserver receives the outcome of each rule execution.
// Implementations may record metrics, audit records, or other telemetry.
type ExecutionObserver interface {
	OnExecution(ctx context.Context, ec *model.ExecutionContext, result model.ExecutionResult)
}

// Engine is the rule execution orchestrator. It owns no mutable state of its
// own: the handler registry and evaluators are read-only after construction,
// and each execution works exclusively on its own context and result
// accumulator, so any number of executions may run concurrently.
type Engine struct {
	fields       *FieldResolver
	conditions   *ConditionEvaluator
	matcher      *TriggerMatcher
	interpolator *Interpolator
	dispatcher   *Dispatcher
	logger       *zap.Logger
	tracer       trace.Tracer
	observers    []ExecutionObserver
	maxExecution time.Duration
}

// Option configures optional engine dependencies.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	observers    []ExecutionObserver
	maxExecution time.Duration
	maxDelay     time.Duration
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver adds an execution observer.
func WithObserver(obs ExecutionObserver) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithMaxExecutionTime sets a hard cap on total execution time, including
// action delays. Zero disables the cap.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(o *options) { o.maxExecution = d }
}

// WithMaxActionDelay caps individual action delays. Zero disables the cap.
func WithMaxActionDelay(d time.Duration) Option {
	return func(o *options) { o.maxDelay = d }
}

// NewEngine creates an Engine around a handler registry.
func NewEngine(registry *HandlerRegistry, opts ...Option) *Engine {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	fields := NewFieldResolver()
	conditions := NewConditionEvaluator(fields, o.logger)
	interpolator := NewInterpolator(fields)

	return &Engine{
		fields:       fields,
		conditions:   conditions,
		matcher:      NewTriggerMatcher(conditions),
		interpolator: interpolator,
		dispatcher:   NewDispatcher(registry, conditions, interpolator, o.logger, o.maxDelay),
		logger:       o.logger,
		tracer:       otel.Tracer("carepulse/engine"),
		observers:    o.observers,
		maxExecution: o.maxExecution,
	}
}

// Execute runs one rule against one execution context and always returns an
// ExecutionResult; it never panics out. The run proceeds NotStarted →
// Running → Terminated: enablement check, trigger matching, then sequential
// action dispatch.
func (e *Engine) Execute(ctx context.Context, rule model.Rule, ec *model.ExecutionContext) model.ExecutionResult {
	start := time.Now()
	state := runNotStarted

	result := model.ExecutionResult{
		RuleID:         rule.ID,
		ExecutionID:    ec.ExecutionID,
		MatchedTrigger: -1,
		ActionResults:  []model.ActionResult{},
	}

	ctx, span := e.tracer.Start(ctx, "rule.execute",
		trace.WithAttributes(
			attribute.String("rule.id", rule.ID),
			attribute.String("execution.id", ec.ExecutionID),
			attribute.String("event.type", string(ec.EventType)),
		))
	defer span.End()

	if e.maxExecution > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.maxExecution)
		defer cancel()
	}

	// The run-level containment tier: a programming defect anywhere below
	// terminates the execution with a top-level error instead of escaping
	// the engine's public entry point.
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("execution panic: %v", r)
			result.Duration = time.Since(start)
			e.logger.Error("rule execution panicked",
				zap.String("rule_id", rule.ID),
				zap.String("execution_id", ec.ExecutionID),
				zap.Any("panic", r))
		}
		e.notify(ctx, ec, result)
	}()

	state = runRunning

	if !rule.Enabled {
		result.Success = false
		result.Error = model.DisabledRuleError()
		result.Duration = time.Since(start)
		state = runTerminated
		e.logExecution(rule, ec, result, state)
		return result
	}

	outcome := e.matcher.Match(rule.Triggers, ec)
	result.NoTriggers = outcome.Applicable == 0

	if !outcome.Matched {
		// An explicit "ran, nothing matched" outcome, distinct from failure.
		result.Success = true
		result.Duration = time.Since(start)
		state = runTerminated
		if result.NoTriggers {
			e.logger.Warn("rule has no triggers applicable to event type",
				zap.String("rule_id", rule.ID),
				zap.String("event_type", string(ec.EventType)))
		}
		e.logExecution(rule, ec, result, state)
		return result
	}

	result.Matched = true
	result.MatchedTrigger = outcome.Index

	result.ActionResults = e.dispatcher.ExecuteAll(ctx, rule.Actions, ec)

	result.Success = true
	for _, ar := range result.ActionResults {
		if !ar.Success {
			result.Success = false
		}
	}

	if err := ctx.Err(); err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("execution aborted: %v", err)
	}

	result.Duration = time.Since(start)
	state = runTerminated
	e.logExecution(rule, ec, result, state)
	return result
}

// logExecution emits the structured per-execution log line the audit
// subsystem consumes.
func (e *Engine) logExecution(rule model.Rule, ec *model.ExecutionContext, result model.ExecutionResult, state runState) {
	if state != runTerminated {
		return
	}
	e.logger.Info("rule execution terminated",
		zap.String("rule_id", rule.ID),
		zap.String("rule_version", rule.Version),
		zap.String("execution_id", ec.ExecutionID),
		zap.String("event_type", string(ec.EventType)),
		zap.Bool("success", result.Success),
		zap.Bool("matched", result.Matched),
		zap.Int("matched_trigger", result.MatchedTrigger),
		zap.Int("actions", len(result.ActionResults)),
		zap.Duration("duration", result.Duration),
		zap.String("error", result.Error))
}

func (e *Engine) notify(ctx context.Context, ec *model.ExecutionContext, result model.ExecutionResult) {
	for _, obs := range e.observers {
		obs.OnExecution(ctx, ec, result)
	}
}
