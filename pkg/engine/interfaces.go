package engine

import (
	"context"
	"io"
	"time"
)

// FastChannel is the batch-capable management API (Channel A).
// Session and transport handling belong to the implementation.
type FastChannel interface {
	// GetSettings pulls the full live configuration as a flat name to value map.
	GetSettings(ctx context.Context) (map[string]interface{}, error)

	// SetSettings applies a batch of settings in one call. A false return
	// with a nil error means the backend rejected the batch.
	SetSettings(ctx context.Context, settings map[string]interface{}) (bool, error)

	// TestConnection verifies that the channel is reachable.
	TestConnection(ctx context.Context) (bool, string, error)

	// DiscoverCapabilities probes the features the channel supports.
	DiscoverCapabilities(ctx context.Context) (CapabilitySet, error)
}

// ToolChannel is the vendor tool channel (Channel B). It applies one setting
// per call.
type ToolChannel interface {
	// ApplySetting applies a single setting. A false return with a nil error
	// means the tool reported failure.
	ApplySetting(ctx context.Context, name string, value interface{}) (bool, error)
}

// TaskState is the state of an asynchronous backend task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// IsTerminal returns true if the task has finished.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// AsyncApplier is implemented by fast channels whose writes are asynchronous
// tasks. When present it is used instead of SetSettings and the task is
// awaited with the bounded poll loop.
type AsyncApplier interface {
	SubmitSettings(ctx context.Context, settings map[string]interface{}) (taskID string, err error)
	TaskState(ctx context.Context, taskID string) (TaskState, string, error)
}

// SettingReader is implemented by tool channels that can read back a value.
// Post-validation uses it for settings the fast channel does not expose.
type SettingReader interface {
	ReadSetting(ctx context.Context, name string) (interface{}, bool, error)
}

// Prober is implemented by channels that can check their own readiness,
// such as a tool channel verifying the vendor binary is present.
type Prober interface {
	Probe(ctx context.Context) error
}

// FirmwareUpdater applies a firmware artifact to a component.
type FirmwareUpdater interface {
	// UpdateFirmware flashes the item and returns the version reported after
	// the update.
	UpdateFirmware(ctx context.Context, item FirmwareItem, artifactPath string) (string, error)
}

// AsyncFirmwareUpdater is implemented by updaters that start a background
// task on the target. The sequencer awaits it with the bounded poll loop.
type AsyncFirmwareUpdater interface {
	StartFirmwareUpdate(ctx context.Context, item FirmwareItem, artifactPath string) (taskID string, err error)
	TaskState(ctx context.Context, taskID string) (TaskState, string, error)
}

// ArtifactResolver turns an artifact reference into a readable local file.
type ArtifactResolver interface {
	// Resolve returns a local path for the artifact and a cleanup function.
	Resolve(ctx context.Context, ref string) (path string, cleanup func(), err error)
}

// ArtifactOpener opens a local artifact for checksum validation.
type ArtifactOpener func(path string) (io.ReadCloser, error)

// PolicyChecker evaluates organisation policies against a staged state.
type PolicyChecker interface {
	CheckState(ctx context.Context, target string, staged map[string]interface{}, diff Diff) ([]ValidationIssue, error)
}

// Recorder receives execution metrics. telemetry.Metrics implements it.
type Recorder interface {
	RecordPhase(phase string, success bool, duration time.Duration)
	RecordBatch(channel, status string, size int, duration time.Duration)
	RecordRecovery(success bool)
	RecordFirmwareUpdate(component string, success bool, duration time.Duration)
	RecordError(kind, code string)
}

type nopRecorder struct{}

func (nopRecorder) RecordPhase(string, bool, time.Duration) {}
func (nopRecorder) RecordBatch(string, string, int, time.Duration) {}
func (nopRecorder) RecordRecovery(bool) {}
func (nopRecorder) RecordFirmwareUpdate(string, bool, time.Duration) {}
func (nopRecorder) RecordError(string, string) {}
