package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for framegraph. Every Record method is
// safe on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	framesEvaluated     prometheus.Counter
	frameDuration       prometheus.Histogram
	propertiesEvaluated *prometheus.CounterVec
	expressionErrors    *prometheus.CounterVec
	depthLimitHits      prometheus.Counter
	programCacheEntries prometheus.Gauge

	// History metrics
	commandsCommitted *prometheus.CounterVec
	historyOps        *prometheus.CounterVec
	historyDepth      *prometheus.GaugeVec

	// Script metrics
	scriptRuns     *prometheus.CounterVec
	scriptDuration *prometheus.HistogramVec

	// Console and error metrics
	logEntries    *prometheus.CounterVec
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		framesEvaluated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_evaluated_total",
				Help:      "Total number of frames evaluated",
			},
		),
		frameDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frame_duration_seconds",
				Help:      "Time to evaluate every property of one frame",
				Buckets:   buckets,
			},
		),
		propertiesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "properties_evaluated_total",
				Help:      "Total number of property evaluations by kind",
			},
			[]string{"kind"},
		),
		expressionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expression_errors_total",
				Help:      "Total number of expressions that failed and fell back to 0",
			},
			[]string{"phase"},
		),
		depthLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "depth_limit_hits_total",
				Help:      "Evaluations cut short by the recursion depth guard",
			},
		),
		programCacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "program_cache_entries",
				Help:      "Compiled expression programs currently cached",
			},
		),

		commandsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_committed_total",
				Help:      "Total number of commands committed to history",
			},
			[]string{"command"},
		),
		historyOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_operations_total",
				Help:      "Undo, redo and jump operations",
			},
			[]string{"operation"},
		),
		historyDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_depth",
				Help:      "Entries on the past and future stacks",
			},
			[]string{"stack"},
		),

		scriptRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_runs_total",
				Help:      "Total number of scripts executed",
			},
			[]string{"status"},
		),
		scriptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "script_duration_seconds",
				Help:      "Duration of script execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		logEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "console_entries_total",
				Help:      "Console entries appended by level",
			},
			[]string{"level"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.framesEvaluated,
		m.frameDuration,
		m.propertiesEvaluated,
		m.expressionErrors,
		m.depthLimitHits,
		m.programCacheEntries,
		m.commandsCommitted,
		m.historyOps,
		m.historyDepth,
		m.scriptRuns,
		m.scriptDuration,
		m.logEntries,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Evaluation Metrics

// RecordFrame records one full frame evaluation.
func (m *Metrics) RecordFrame(duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.framesEvaluated.Inc()
	m.frameDuration.Observe(duration.Seconds())
}

// RecordPropertyEvaluated counts an evaluation of a property of kind.
func (m *Metrics) RecordPropertyEvaluated(kind string) {
	if !m.enabled() {
		return
	}
	m.propertiesEvaluated.WithLabelValues(kind).Inc()
}

// RecordExpressionError counts an expression that failed in phase
// ("compile" or "runtime").
func (m *Metrics) RecordExpressionError(phase string) {
	if !m.enabled() {
		return
	}
	m.expressionErrors.WithLabelValues(phase).Inc()
}

// RecordDepthLimit counts a hit of the recursion depth guard.
func (m *Metrics) RecordDepthLimit() {
	if !m.enabled() {
		return
	}
	m.depthLimitHits.Inc()
}

// SetProgramCacheEntries sets the compiled program cache gauge.
func (m *Metrics) SetProgramCacheEntries(n int) {
	if !m.enabled() {
		return
	}
	m.programCacheEntries.Set(float64(n))
}

// History Metrics

// RecordCommit counts a committed command by name.
func (m *Metrics) RecordCommit(command string) {
	if !m.enabled() {
		return
	}
	m.commandsCommitted.WithLabelValues(command).Inc()
}

// RecordHistoryOp counts an undo, redo or jump.
func (m *Metrics) RecordHistoryOp(operation string) {
	if !m.enabled() {
		return
	}
	m.historyOps.WithLabelValues(operation).Inc()
}

// SetHistoryDepth sets the sizes of the past and future stacks.
func (m *Metrics) SetHistoryDepth(past, future int) {
	if !m.enabled() {
		return
	}
	m.historyDepth.WithLabelValues("past").Set(float64(past))
	m.historyDepth.WithLabelValues("future").Set(float64(future))
}

// Script Metrics

// RecordScriptRun records a completed script with its status and duration.
func (m *Metrics) RecordScriptRun(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.scriptRuns.WithLabelValues(status).Inc()
	m.scriptDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Console and Error Metrics

// RecordLogEntry counts a console entry by level.
func (m *Metrics) RecordLogEntry(level Level) {
	if !m.enabled() {
		return
	}
	m.logEntries.WithLabelValues(string(level)).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled. It returns
// immediately when metrics are disabled or no listen address is set.
func (m *Metrics) Serve(ctx context.Context, logger *Logger) error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.WithError(err).Error("metrics server stopped")
			}
		}
	}()

	return nil
}
