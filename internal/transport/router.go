package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carepulse/carepulse/internal/config"
	"github.com/carepulse/carepulse/internal/observability"
	"github.com/carepulse/carepulse/internal/service"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config  *config.Config
	Service *service.ExecutionService
	Logger  *zap.Logger

	// Authenticate is the auth middleware; nil means no authentication.
	Authenticate func(http.Handler) http.Handler

	// Metrics enables HTTP metrics recording when non-nil.
	Metrics *observability.Metrics

	// MetricsHandler serves GET /metrics; nil falls back to the default
	// Prometheus registry handler.
	MetricsHandler http.Handler

	// Readiness configures the dependency checks behind GET /ready.
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(log))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = observability.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(log))

		r.Post("/events", handleEvent(deps.Service))
		r.Get("/rules", handleListRules(deps.Service))
		r.Post("/rules/{ruleId}/execute", handleExecuteRule(deps.Service))
		r.Get("/executions", handleListExecutions(deps.Service))
		r.Get("/executions/{executionId}", handleGetExecution(deps.Service))
	})

	return r
}
