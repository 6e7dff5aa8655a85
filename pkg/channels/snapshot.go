package channels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/biosctl/pkg/engine"
)

// Snapshot is the on-disk form of a target's live configuration.
type Snapshot struct {
	Target string `yaml:"target,omitempty"`

	// Capabilities lists what the fast channel reports. Empty means read
	// and write.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Reject names settings the backend refuses in a batch. A batch that
	// contains any of them is rejected as a whole.
	Reject []string `yaml:"reject,omitempty"`

	// Unreachable makes TestConnection fail.
	Unreachable bool `yaml:"unreachable,omitempty"`

	Settings map[string]interface{} `yaml:"settings"`
}

// LoadSnapshot reads a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if snap.Settings == nil {
		snap.Settings = make(map[string]interface{})
	}
	return &snap, nil
}

// SnapshotChannel is a file-backed fast channel. Reads load the snapshot,
// accepted batches are written back to it.
type SnapshotChannel struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

var (
	_ engine.FastChannel = (*SnapshotChannel)(nil)
)

// NewSnapshotChannel returns a channel over the snapshot at path.
func NewSnapshotChannel(path string, logger zerolog.Logger) *SnapshotChannel {
	return &SnapshotChannel{
		path:   path,
		logger: logger.With().Str("component", "snapshot-channel").Str("path", path).Logger(),
	}
}

// GetSettings returns the settings of the snapshot.
func (c *SnapshotChannel) GetSettings(ctx context.Context) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := LoadSnapshot(c.path)
	if err != nil {
		return nil, err
	}
	return snap.Settings, nil
}

// SetSettings merges a batch into the snapshot. The batch is rejected when
// it names a setting listed under reject.
func (c *SnapshotChannel) SetSettings(ctx context.Context, settings map[string]interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	snap, err := LoadSnapshot(c.path)
	if err != nil {
		return false, err
	}
	if !capabilities(snap).Has(engine.CapabilityWriteSettings) {
		return false, fmt.Errorf("snapshot %s is read-only", c.path)
	}

	for _, name := range snap.Reject {
		if _, ok := settings[name]; ok {
			c.logger.Warn().Str("setting", name).Msg("Batch rejected")
			return false, nil
		}
	}

	names := make([]string, 0, len(settings))
	for name, value := range settings {
		snap.Settings[name] = value
		names = append(names, name)
	}
	sort.Strings(names)

	if err := writeSnapshot(c.path, snap); err != nil {
		return false, err
	}
	c.logger.Debug().Strs("settings", names).Msg("Batch applied")
	return true, nil
}

// TestConnection checks the snapshot is readable.
func (c *SnapshotChannel) TestConnection(_ context.Context) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := LoadSnapshot(c.path)
	if err != nil {
		return false, err.Error(), nil
	}
	if snap.Unreachable {
		return false, "target marked unreachable", nil
	}
	return true, fmt.Sprintf("%d settings", len(snap.Settings)), nil
}

// DiscoverCapabilities returns the capabilities of the snapshot.
func (c *SnapshotChannel) DiscoverCapabilities(_ context.Context) (engine.CapabilitySet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := LoadSnapshot(c.path)
	if err != nil {
		return nil, err
	}
	return capabilities(snap), nil
}

// Path returns the snapshot file.
func (c *SnapshotChannel) Path() string {
	return c.path
}

func capabilities(snap *Snapshot) engine.CapabilitySet {
	caps := engine.CapabilitySet{}
	if len(snap.Capabilities) == 0 {
		caps[engine.CapabilityReadSettings] = true
		caps[engine.CapabilityWriteSettings] = true
		return caps
	}
	for _, c := range snap.Capabilities {
		caps[c] = true
	}
	return caps
}

// writeSnapshot replaces the file atomically.
func writeSnapshot(path string, snap *Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
