package service

import (
	"context"

	"github.com/carepulse/carepulse/internal/observability"
	"github.com/carepulse/carepulse/model"
)

// MetricsObserver records execution outcomes as Prometheus metrics. It is
// registered on the engine via engine.WithObserver.
type MetricsObserver struct {
	metrics *observability.Metrics
}

// NewMetricsObserver creates a MetricsObserver.
func NewMetricsObserver(m *observability.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

// OnExecution records the execution counter plus per-trigger and per-action
// outcome metrics.
func (o *MetricsObserver) OnExecution(_ context.Context, ec *model.ExecutionContext, result model.ExecutionResult) {
	status := result.Status()
	o.metrics.RecordRuleExecution(result.RuleID, status, result.Duration)

	switch {
	case result.Matched:
		o.metrics.RecordTriggerMatch(result.RuleID, string(ec.EventType))
	case status == model.ExecutionStatusNoMatch:
		o.metrics.RecordTriggerNoMatch(result.RuleID)
	}

	for _, ar := range result.ActionResults {
		outcome := "success"
		if !ar.Success {
			outcome = "failure"
		}
		o.metrics.RecordActionDispatch(string(ar.ActionType), outcome, ar.Duration)
	}
}
