package model

import "context"

// ActionHandler is the collaborator boundary for action effectors. The engine
// does not know what an effector does; it only needs this contract. Params is
// the action's parameter map after interpolation.
//
// Implementations must be safe for concurrent use: the handler registry is
// shared across all in-flight executions.
type ActionHandler interface {
	Handle(ctx context.Context, params map[string]any, ec *ExecutionContext) (any, error)
}

// ActionHandlerFunc adapts a function to the ActionHandler interface.
type ActionHandlerFunc func(ctx context.Context, params map[string]any, ec *ExecutionContext) (any, error)

// Handle implements ActionHandler.
func (f ActionHandlerFunc) Handle(ctx context.Context, params map[string]any, ec *ExecutionContext) (any, error) {
	return f(ctx, params, ec)
}
