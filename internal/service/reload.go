package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/carepulse/internal/definition"
	"github.com/carepulse/carepulse/internal/observability"
)

// Reloader periodically re-reads the definition directories and atomically
// swaps the registry when the loaded set changes. A load or validation
// failure keeps the previous snapshot; in-flight executions are never
// affected either way.
type Reloader struct {
	loader    *definition.Loader
	validator *definition.Validator
	registry  *definition.Registry
	dirs      []string
	interval  time.Duration
	log       *zap.Logger
	metrics   *observability.Metrics
}

// NewReloader creates a Reloader over the given definition directories.
func NewReloader(
	registry *definition.Registry,
	dirs []string,
	interval time.Duration,
	log *zap.Logger,
	metrics *observability.Metrics,
) *Reloader {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reloader{
		loader:    definition.NewLoader(),
		validator: definition.NewValidator(),
		registry:  registry,
		dirs:      dirs,
		interval:  interval,
		log:       log,
		metrics:   metrics,
	}
}

// Run reloads on a fixed interval until the context is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReloadOnce(ctx)
		}
	}
}

// ReloadOnce performs a single load-validate-swap cycle.
func (r *Reloader) ReloadOnce(_ context.Context) {
	rules, err := r.loader.LoadAll(r.dirs)
	if err != nil {
		r.log.Error("definition reload failed", zap.Error(err))
		r.recordReload("failed")
		return
	}

	errs := r.validator.Validate(rules)
	for _, ve := range errs {
		if ve.Severity == definition.SeverityWarning {
			r.log.Warn("definition validation warning", zap.String("finding", ve.Error()))
		} else {
			r.log.Error("definition validation error", zap.String("finding", ve.Error()))
		}
	}
	if definition.HasErrors(errs) {
		r.recordReload("failed")
		return
	}

	before := r.registry.Checksum()
	r.registry.Replace(rules)
	after := r.registry.Checksum()

	if before == after {
		r.recordReload("unchanged")
		return
	}

	r.log.Info("definitions reloaded",
		zap.Int("rules", len(rules)),
		zap.String("checksum", after))
	r.recordReload("success")
	if r.metrics != nil {
		r.metrics.SetRulesLoaded(float64(len(rules)))
	}
}

func (r *Reloader) recordReload(status string) {
	if r.metrics != nil {
		r.metrics.RecordDefinitionReload(status)
	}
}
