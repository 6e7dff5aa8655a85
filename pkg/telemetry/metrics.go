package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for reconciliation and firmware runs.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	activeOperations    prometheus.Gauge

	// Execution metrics
	phaseDuration    *prometheus.HistogramVec
	batchesExecuted  *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	settingsApplied  *prometheus.CounterVec
	recoveryAttempts *prometheus.CounterVec

	// Firmware metrics
	firmwareUpdates  *prometheus.CounterVec
	firmwareDuration *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	progressEvents *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of monitored operations started",
			},
			[]string{"kind"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of monitored operations that reached a terminal status",
			},
			[]string{"kind", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of monitored operations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "status"},
		),
		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of running operations",
			},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of execution phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase", "result"},
		),
		batchesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_executed_total",
				Help:      "Total number of batch groups executed",
			},
			[]string{"channel", "status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch group execution in seconds",
				Buckets:   buckets,
			},
			[]string{"channel"},
		),
		settingsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settings_applied_total",
				Help:      "Total number of settings sent to a channel",
			},
			[]string{"channel", "status"},
		),
		recoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_attempts_total",
				Help:      "Total number of per-setting fallback attempts on the tool channel",
			},
			[]string{"result"},
		),
		firmwareUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "firmware_updates_total",
				Help:      "Total number of firmware updates attempted",
			},
			[]string{"component", "result"},
		),
		firmwareDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "firmware_update_duration_seconds",
				Help:      "Duration of firmware updates in seconds",
				Buckets:   buckets,
			},
			[]string{"component"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
		progressEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_events_total",
				Help:      "Total number of progress events by type",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.activeOperations,
		m.phaseDuration,
		m.batchesExecuted,
		m.batchDuration,
		m.settingsApplied,
		m.recoveryAttempts,
		m.firmwareUpdates,
		m.firmwareDuration,
		m.errorsByKind,
		m.errorsByCode,
		m.progressEvents,
	)

	return m, nil
}

// Operation Metrics

// RecordOperationStarted counts a started operation.
func (m *Metrics) RecordOperationStarted(kind string) {
	if m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(kind).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a terminal operation.
func (m *Metrics) RecordOperationCompleted(kind, status string, wasRunning bool, duration time.Duration) {
	if m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(kind, status).Inc()
	m.operationDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	if wasRunning {
		m.activeOperations.Dec()
	}
}

// RecordProgressEvent counts a progress event by type.
func (m *Metrics) RecordProgressEvent(eventType string) {
	if m.progressEvents == nil {
		return
	}
	m.progressEvents.WithLabelValues(eventType).Inc()
}

// Execution Metrics

// RecordPhase records the duration and outcome of an execution phase.
func (m *Metrics) RecordPhase(phase string, success bool, duration time.Duration) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, result(success)).Observe(duration.Seconds())
}

// RecordBatch records one executed batch group.
func (m *Metrics) RecordBatch(channel, status string, size int, duration time.Duration) {
	if m.batchesExecuted == nil {
		return
	}
	m.batchesExecuted.WithLabelValues(channel, status).Inc()
	m.batchDuration.WithLabelValues(channel).Observe(duration.Seconds())
	m.settingsApplied.WithLabelValues(channel, status).Add(float64(size))
}

// RecordRecovery records one per-setting fallback attempt.
func (m *Metrics) RecordRecovery(success bool) {
	if m.recoveryAttempts == nil {
		return
	}
	m.recoveryAttempts.WithLabelValues(result(success)).Inc()
}

// Firmware Metrics

// RecordFirmwareUpdate records one firmware item outcome.
func (m *Metrics) RecordFirmwareUpdate(component string, success bool, duration time.Duration) {
	if m.firmwareUpdates == nil {
		return
	}
	m.firmwareUpdates.WithLabelValues(component, result(success)).Inc()
	m.firmwareDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by kind and optionally by code.
func (m *Metrics) RecordError(kind, code string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	if m.registry == nil || addr == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
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
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()

	logger.Info().Str("addr", addr).Str("path", path).Msg("Serving metrics")
	return nil
}
