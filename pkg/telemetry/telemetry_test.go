package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/biosctl/pkg/progress"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("coordinator").
		WithOperationID("op-1").
		WithTargetID("srv-01").
		Info("Batch applied")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	for key, want := range map[string]string{
		"component":    "coordinator",
		"operation_id": "op-1",
		"target_id":    "srv-01",
		"message":      "Batch applied",
		"level":        "info",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordBatch("channel_a", "succeeded", 3, time.Second)
	m.RecordRecovery(true)
	m.RecordPhase("preflight", true, time.Second)
	m.RecordFirmwareUpdate("BMC", false, time.Second)
	m.RecordError("timeout", "POLL_BUDGET_EXCEEDED")
	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
}

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordBatch("channel_a", "failed", 4, time.Second)
	m.RecordBatch("channel_b", "succeeded", 1, time.Second)
	m.RecordRecovery(true)
	m.RecordRecovery(true)
	m.RecordError("validation", "PRESERVE_VIOLATION")

	if got := testutil.ToFloat64(m.settingsApplied.WithLabelValues("channel_a", "failed")); got != 4 {
		t.Errorf("settings_applied{channel_a,failed} = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.recoveryAttempts.WithLabelValues("success")); got != 2 {
		t.Errorf("recovery_attempts{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues("PRESERVE_VIOLATION")); got != 1 {
		t.Errorf("errors_by_code = %v, want 1", got)
	}
}

func TestMetricsObserver_OperationLifecycle(t *testing.T) {
	m, _ := NewMetrics(DefaultConfig().Metrics)
	monitor := progress.NewMonitor()
	monitor.AddObserver(NewMetricsObserver(m, monitor.Get))

	id := monitor.Create("reconcile", "srv-01")
	_ = monitor.Start(id, 1)
	if got := testutil.ToFloat64(m.activeOperations); got != 1 {
		t.Errorf("active_operations = %v, want 1", got)
	}
	_ = monitor.CompleteSubtask(id, "preflight", true)
	_ = monitor.CompleteOperation(id, true, "done")

	if got := testutil.ToFloat64(m.activeOperations); got != 0 {
		t.Errorf("active_operations = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.operationsCompleted.WithLabelValues("reconcile", "completed")); got != 1 {
		t.Errorf("operations_completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.progressEvents.WithLabelValues(string(progress.EventSubtaskCompleted))); got != 1 {
		t.Errorf("progress_events{subtask_completed} = %v, want 1", got)
	}
}

func TestLogObserver_WritesEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)
	monitor := progress.NewMonitor(progress.WithObserver(NewLogObserver(logger.Zerolog())))

	id := monitor.Create("firmware", "srv-02")
	_ = monitor.Start(id, 0)
	_ = monitor.LogWarning(id, "artifact cache miss")

	out := buf.String()
	if !strings.Contains(out, "artifact cache miss") {
		t.Errorf("warning not logged: %s", out)
	}
	if !strings.Contains(out, id) {
		t.Errorf("operation id not logged: %s", out)
	}
}
