package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/carepulse/model"
)

// HandlerRegistry maps action types to their effectors. Register all
// handlers during startup; the registry is read-only afterwards and shared
// across concurrently running executions.
type HandlerRegistry struct {
	handlers map[model.ActionType]model.ActionHandler
}

// NewHandlerRegistry creates an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[model.ActionType]model.ActionHandler)}
}

// Register binds a handler to an action type, replacing any previous binding.
func (r *HandlerRegistry) Register(actionType model.ActionType, handler model.ActionHandler) {
	r.handlers[actionType] = handler
}

// Lookup returns the handler for an action type.
func (r *HandlerRegistry) Lookup(actionType model.ActionType) (model.ActionHandler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

// Types returns the registered action types.
func (r *HandlerRegistry) Types() []model.ActionType {
	types := make([]model.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatcher executes a rule's actions strictly in declaration order,
// isolating each action's failure so one broken effector cannot abort the
// run.
type Dispatcher struct {
	registry     *HandlerRegistry
	conditions   *ConditionEvaluator
	interpolator *Interpolator
	logger       *zap.Logger
	maxDelay     time.Duration
}

// NewDispatcher creates a Dispatcher. maxDelay caps per-action delays; zero
// means uncapped.
func NewDispatcher(
	registry *HandlerRegistry,
	conditions *ConditionEvaluator,
	interpolator *Interpolator,
	logger *zap.Logger,
	maxDelay time.Duration,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry:     registry,
		conditions:   conditions,
		interpolator: interpolator,
		logger:       logger,
		maxDelay:     maxDelay,
	}
}

// ExecuteAll dispatches every action in order. Actions excluded by a failed
// guard produce no ActionResult; all attempted actions do, failed or not.
// If the context expires mid-run, the in-flight action records a failure and
// no further actions are attempted.
func (d *Dispatcher) ExecuteAll(ctx context.Context, actions []model.Action, ec *model.ExecutionContext) []model.ActionResult {
	results := make([]model.ActionResult, 0, len(actions))
	for _, action := range actions {
		result, attempted := d.Execute(ctx, action, ec)
		if attempted {
			results = append(results, result)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// Execute runs a single action. The second return value reports whether the
// action was attempted: a failed guard condition is an exclusion, not a
// failure, and yields (zero, false).
func (d *Dispatcher) Execute(ctx context.Context, action model.Action, ec *model.ExecutionContext) (model.ActionResult, bool) {
	// Guard conditions decide whether the action applies at all.
	if len(action.Conditions) > 0 {
		if !d.conditions.Evaluate(action.Conditions, ec.Data, model.CombinatorAnd) {
			d.logger.Debug("action skipped by guard condition",
				zap.String("action_type", string(action.Type)),
				zap.String("execution_id", ec.ExecutionID))
			return model.ActionResult{}, false
		}
	}

	start := time.Now()

	// The delay suspends only this execution's continuation. Waiting on the
	// timer channel yields the goroutine; other executions keep running.
	if action.DelayMS > 0 {
		if err := d.wait(ctx, action.DelayMS); err != nil {
			return model.ActionResult{
				ActionType: action.Type,
				Success:    false,
				Error:      fmt.Sprintf("delay interrupted: %v", err),
				Duration:   time.Since(start),
			}, true
		}
	}

	params := d.interpolator.Interpolate(action.Params, ec)

	handler, ok := d.registry.Lookup(action.Type)
	if !ok {
		d.logger.Error("no handler registered for action type",
			zap.String("action_type", string(action.Type)),
			zap.String("rule_id", ec.RuleID))
		return model.ActionResult{
			ActionType: action.Type,
			Success:    false,
			Error:      fmt.Sprintf("no handler registered for action type %q", action.Type),
			Duration:   time.Since(start),
		}, true
	}

	result, err := d.invoke(ctx, handler, params, ec)
	duration := time.Since(start)
	if err != nil {
		d.logger.Warn("action failed",
			zap.String("action_type", string(action.Type)),
			zap.String("execution_id", ec.ExecutionID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return model.ActionResult{
			ActionType: action.Type,
			Success:    false,
			Error:      err.Error(),
			Duration:   duration,
		}, true
	}

	return model.ActionResult{
		ActionType: action.Type,
		Success:    true,
		Result:     result,
		Duration:   duration,
	}, true
}

// wait suspends until the delay elapses or the context is done.
func (d *Dispatcher) wait(ctx context.Context, delayMS int64) error {
	delay := time.Duration(delayMS) * time.Millisecond
	if d.maxDelay > 0 && delay > d.maxDelay {
		delay = d.maxDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// invoke calls the handler, converting a panic into an error so a defective
// effector is contained at the action tier.
func (d *Dispatcher) invoke(ctx context.Context, handler model.ActionHandler, params map[string]any, ec *model.ExecutionContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, params, ec)
}
