package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	actionDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	delayBuckets          = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the rule engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Rule execution metrics
	RuleExecutionsTotal   *prometheus.CounterVec
	RuleExecutionDuration *prometheus.HistogramVec
	TriggerMatchesTotal   *prometheus.CounterVec
	TriggerNoMatchTotal   *prometheus.CounterVec

	// Action metrics
	ActionDispatchesTotal *prometheus.CounterVec
	ActionDuration        *prometheus.HistogramVec
	ActionDelaySeconds    prometheus.Histogram
	NotificationsTotal    *prometheus.CounterVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	WebhookCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Dedup metrics
	DedupHitsTotal   prometheus.Counter
	DedupMissesTotal prometheus.Counter

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	RulesLoaded           prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carepulse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carepulse_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carepulse_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Rule executions
		RuleExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_rule_executions_total",
			Help: "Total number of rule executions.",
		}, []string{"rule_id", "status"}),
		RuleExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carepulse_rule_execution_duration_seconds",
			Help:    "Rule execution duration in seconds.",
			Buckets: actionDurationBuckets,
		}, []string{"rule_id"}),
		TriggerMatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_trigger_matches_total",
			Help: "Total number of trigger matches.",
		}, []string{"rule_id", "trigger_type"}),
		TriggerNoMatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_trigger_no_match_total",
			Help: "Total number of executions where no trigger matched.",
		}, []string{"rule_id"}),

		// Actions
		ActionDispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_action_dispatches_total",
			Help: "Total number of dispatched actions.",
		}, []string{"action_type", "status"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carepulse_action_duration_seconds",
			Help:    "Action handler duration in seconds.",
			Buckets: actionDurationBuckets,
		}, []string{"action_type"}),
		ActionDelaySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carepulse_action_delay_seconds",
			Help:    "Configured pre-dispatch delay actually waited, in seconds.",
			Buckets: delayBuckets,
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_notifications_total",
			Help: "Total number of notifications emitted.",
		}, []string{"channel", "severity"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"target", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carepulse_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: actionDurationBuckets,
		}, []string{"target"}),
		WebhookCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carepulse_webhook_circuit_breaker_state",
			Help: "Webhook circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"host"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"target"}),

		// Dedup
		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carepulse_dedup_hits_total",
			Help: "Total duplicate event deliveries suppressed.",
		}),
		DedupMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carepulse_dedup_misses_total",
			Help: "Total dedup lookups that found no prior execution.",
		}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepulse_definition_reload_total",
			Help: "Total rule definition reloads.",
		}, []string{"status"}),
		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carepulse_rules_loaded",
			Help: "Number of loaded rules.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Rule executions
		m.RuleExecutionsTotal,
		m.RuleExecutionDuration,
		m.TriggerMatchesTotal,
		m.TriggerNoMatchTotal,
		// Actions
		m.ActionDispatchesTotal,
		m.ActionDuration,
		m.ActionDelaySeconds,
		m.NotificationsTotal,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.WebhookCircuitBreakerState,
		m.BackendRetriesTotal,
		// Dedup
		m.DedupHitsTotal,
		m.DedupMissesTotal,
		// System
		m.DefinitionReloadTotal,
		m.RulesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRuleExecution records a rule execution outcome.
func (m *Metrics) RecordRuleExecution(ruleID, status string, duration time.Duration) {
	m.RuleExecutionsTotal.WithLabelValues(ruleID, status).Inc()
	m.RuleExecutionDuration.WithLabelValues(ruleID).Observe(duration.Seconds())
}

// RecordTriggerMatch records a trigger match.
func (m *Metrics) RecordTriggerMatch(ruleID, triggerType string) {
	m.TriggerMatchesTotal.WithLabelValues(ruleID, triggerType).Inc()
}

// RecordTriggerNoMatch records an execution where no trigger matched.
func (m *Metrics) RecordTriggerNoMatch(ruleID string) {
	m.TriggerNoMatchTotal.WithLabelValues(ruleID).Inc()
}

// RecordActionDispatch records an action dispatch outcome.
func (m *Metrics) RecordActionDispatch(actionType, status string, duration time.Duration) {
	m.ActionDispatchesTotal.WithLabelValues(actionType, status).Inc()
	m.ActionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordActionDelay records a pre-dispatch delay that was actually waited.
func (m *Metrics) RecordActionDelay(d time.Duration) {
	m.ActionDelaySeconds.Observe(d.Seconds())
}

// RecordNotification records an emitted notification.
func (m *Metrics) RecordNotification(channel, severity string) {
	m.NotificationsTotal.WithLabelValues(channel, severity).Inc()
}

// RecordBackendRequest records a backend service request.
func (m *Metrics) RecordBackendRequest(target string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(target, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// SetWebhookCircuitBreakerState sets the breaker state gauge for a host.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetWebhookCircuitBreakerState(host string, state float64) {
	m.WebhookCircuitBreakerState.WithLabelValues(host).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(target string) {
	m.BackendRetriesTotal.WithLabelValues(target).Inc()
}

// RecordDedupHit records a suppressed duplicate delivery.
func (m *Metrics) RecordDedupHit() {
	m.DedupHitsTotal.Inc()
}

// RecordDedupMiss records a dedup lookup with no prior execution.
func (m *Metrics) RecordDedupMiss() {
	m.DedupMissesTotal.Inc()
}

// RecordDefinitionReload records a rule definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetRulesLoaded sets the number of loaded rules.
func (m *Metrics) SetRulesLoaded(count float64) {
	m.RulesLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
