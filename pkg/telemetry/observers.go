package telemetry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/progress"
)

// LogObserver writes progress events to a zerolog logger.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an observer that logs every progress event.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "progress").Logger()}
}

// OnProgressEvent implements progress.Observer.
func (o *LogObserver) OnProgressEvent(ev progress.Event) error {
	var e *zerolog.Event
	switch ev.Type {
	case progress.EventError, progress.EventOperationFailed, progress.EventSubtaskFailed:
		e = o.logger.Error()
	case progress.EventWarning, progress.EventCancelRequested, progress.EventOperationCancelled:
		e = o.logger.Warn()
	case progress.EventInfo, progress.EventOperationStarted, progress.EventOperationCompleted:
		e = o.logger.Info()
	default:
		e = o.logger.Debug()
	}
	e = e.Str("operation_id", ev.OperationID).
		Str("event", string(ev.Type)).
		Float64("percentage", ev.Percentage)
	if ev.Subtask != "" {
		e = e.Str("subtask", ev.Subtask)
	}
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	e.Msg(ev.Message)
	return nil
}

// OnStatusChange implements progress.Observer.
func (o *LogObserver) OnStatusChange(id string, status progress.Status) error {
	o.logger.Debug().Str("operation_id", id).Str("status", string(status)).Msg("Operation status changed")
	return nil
}

// MetricsObserver turns progress events into Prometheus metrics.
type MetricsObserver struct {
	metrics *Metrics
	lookup  func(id string) (progress.Operation, bool)

	mu      sync.Mutex
	running map[string]bool
}

// NewMetricsObserver creates an observer that records operation metrics.
// lookup resolves operation snapshots, usually progress.Monitor.Get.
func NewMetricsObserver(m *Metrics, lookup func(id string) (progress.Operation, bool)) *MetricsObserver {
	return &MetricsObserver{
		metrics: m,
		lookup:  lookup,
		running: make(map[string]bool),
	}
}

// OnProgressEvent implements progress.Observer.
func (o *MetricsObserver) OnProgressEvent(ev progress.Event) error {
	o.metrics.RecordProgressEvent(string(ev.Type))
	return nil
}

// OnStatusChange implements progress.Observer.
func (o *MetricsObserver) OnStatusChange(id string, status progress.Status) error {
	op, ok := o.lookup(id)
	if !ok {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case status == progress.StatusRunning:
		o.running[id] = true
		o.metrics.RecordOperationStarted(op.Kind)
	case status.IsTerminal():
		wasRunning := o.running[id]
		delete(o.running, id)
		o.metrics.RecordOperationCompleted(op.Kind, string(status), wasRunning, op.Duration())
	}
	return nil
}
