package engine

import (
	"sort"
	"strings"
	"time"
)

// SettingSpec is a single desired setting.
type SettingSpec struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// MethodInfo is the static per-setting capability record from a device profile.
type MethodInfo struct {
	// Tier determines which channels may apply the setting.
	Tier MethodTier `json:"tier"`

	// ChannelATime is the estimated time to apply the setting via Channel A.
	ChannelATime time.Duration `json:"channel_a_time"`

	// ChannelBTime is the estimated time to apply the setting via Channel B.
	ChannelBTime time.Duration `json:"channel_b_time"`

	// ChannelASuccess is the historical success rate via Channel A (0..1).
	ChannelASuccess float64 `json:"channel_a_success"`

	// ChannelBSuccess is the historical success rate via Channel B (0..1).
	ChannelBSuccess float64 `json:"channel_b_success"`

	// Complexity is an opaque complexity score carried for audit output.
	Complexity int `json:"complexity,omitempty"`

	// RebootRequired marks settings that only take effect after a reboot.
	RebootRequired bool `json:"reboot_required,omitempty"`
}

// BatchGroup is a set of settings applied together in one backend call.
type BatchGroup struct {
	// Index is the 1-based position of the group in execution order.
	Index int `json:"index"`

	// Channel is the channel the group executes on.
	Channel Channel `json:"channel"`

	// Settings maps setting names to desired values.
	Settings map[string]interface{} `json:"settings"`

	// EstimatedTime is the expected duration of the group.
	EstimatedTime time.Duration `json:"estimated_time"`
}

// Size returns the number of settings in the group.
func (g BatchGroup) Size() int {
	return len(g.Settings)
}

// Names returns the setting names in the group in lexical order.
func (g BatchGroup) Names() []string {
	return sortedKeys(g.Settings)
}

// SubtaskName returns the progress subtask name for the group.
func (g BatchGroup) SubtaskName() string {
	return batchSubtaskName(g.Index, g.Channel)
}

// SelectionResult is the output of the method selector.
type SelectionResult struct {
	// ChannelA, ChannelB and Unknown partition the input settings.
	ChannelA map[string]interface{} `json:"channel_a"`
	ChannelB map[string]interface{} `json:"channel_b"`
	Unknown  map[string]interface{} `json:"unknown"`

	// Rationale explains the routing decision for every input setting.
	Rationale map[string]string `json:"rationale"`

	// Heuristic lists settings without a MethodInfo entry, routed by keyword rules.
	Heuristic []string `json:"heuristic,omitempty"`

	// RebootRequired lists settings that need a reboot to take effect.
	RebootRequired []string `json:"reboot_required,omitempty"`

	// Batches is the ordered list of groups to execute.
	Batches []BatchGroup `json:"batches"`

	// EstimatedTime is the aggregate time estimate for sequential execution.
	EstimatedTime time.Duration `json:"estimated_time"`
}

// TotalSettings returns the number of settings across all partitions.
func (r *SelectionResult) TotalSettings() int {
	return len(r.ChannelA) + len(r.ChannelB) + len(r.Unknown)
}

// ChannelOf returns the partition a setting was placed in.
func (r *SelectionResult) ChannelOf(name string) Channel {
	if _, ok := r.ChannelA[name]; ok {
		return ChannelA
	}
	if _, ok := r.ChannelB[name]; ok {
		return ChannelB
	}
	return ChannelUnknown
}

// PreservePattern is an exact setting name or a prefix wildcard ("name*").
type PreservePattern string

// Matches reports whether the setting name matches the pattern.
func (p PreservePattern) Matches(name string) bool {
	s := string(p)
	if prefix, ok := strings.CutSuffix(s, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return s == name
}

// Change is a single staged write in a reconciliation diff.
type Change struct {
	Name     string      `json:"name"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

// Diff is the ordered list of staged writes. An empty diff is a no-op.
type Diff []Change

// Settings returns the diff as a name to new value map.
func (d Diff) Settings() map[string]interface{} {
	out := make(map[string]interface{}, len(d))
	for _, c := range d {
		out[c.Name] = c.NewValue
	}
	return out
}

// Template is a desired-configuration template for a device type.
type Template struct {
	ID         string                 `json:"id"`
	DeviceType string                 `json:"device_type,omitempty"`
	Settings   map[string]interface{} `json:"settings"`
}

// ConflictRule forbids a pair of values from coexisting in the staged state.
type ConflictRule struct {
	Name     string      `json:"name"`
	SettingA string      `json:"setting_a"`
	ValueA   interface{} `json:"value_a"`
	SettingB string      `json:"setting_b"`
	ValueB   interface{} `json:"value_b"`
	Message  string      `json:"message,omitempty"`
}

// Violated reports whether the staged state contains both values of the rule.
func (r ConflictRule) Violated(state map[string]interface{}) bool {
	a, okA := state[r.SettingA]
	b, okB := state[r.SettingB]
	return okA && okB && ValuesEqual(a, r.ValueA) && ValuesEqual(b, r.ValueB)
}

// DeviceProfile is the immutable per-device configuration used by a request.
type DeviceProfile struct {
	Name      string                `json:"name"`
	Methods   map[string]MethodInfo `json:"methods"`
	Preserve  []PreservePattern     `json:"preserve"`
	Required  []string              `json:"required,omitempty"`
	Conflicts []ConflictRule        `json:"conflicts,omitempty"`

	// Rules are classification overrides evaluated before the default table.
	Rules RuleTable `json:"rules,omitempty"`

	// BatchSize overrides the default Channel A batch size when positive.
	BatchSize int `json:"batch_size,omitempty"`
}

// CapabilitySet is the set of features a channel reported during pre-flight.
type CapabilitySet map[string]bool

// Has reports whether the capability is present.
func (c CapabilitySet) Has(name string) bool {
	return c[name]
}

// Well-known capability names.
const (
	CapabilityReadSettings  = "settings.read"
	CapabilityWriteSettings = "settings.write"
	CapabilityAsyncTasks    = "tasks.async"
	CapabilityFirmware      = "firmware.update"
)

// FirmwareItem describes one component that may need a firmware update.
type FirmwareItem struct {
	Component      ComponentType `json:"component" yaml:"component"`
	Name           string        `json:"name,omitempty" yaml:"name,omitempty"`
	CurrentVersion string        `json:"current_version" yaml:"current_version"`
	LatestVersion  string        `json:"latest_version" yaml:"latest_version"`
	UpdateRequired bool          `json:"update_required" yaml:"update_required"`
	Priority       Priority      `json:"priority" yaml:"priority"`
	EstimatedTime  time.Duration `json:"estimated_time,omitempty" yaml:"estimated_time,omitempty"`
	RebootRequired bool          `json:"reboot_required,omitempty" yaml:"reboot_required,omitempty"`
	ArtifactPath   string        `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	Checksum       string        `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Label returns a display label for the item.
func (f FirmwareItem) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return string(f.Component)
}

// EffectivePriority applies the sequencing overrides: BMC is always Critical
// and BIOS is at least High.
func (f FirmwareItem) EffectivePriority() Priority {
	switch f.Component {
	case ComponentBMC:
		return PriorityCritical
	case ComponentBIOS:
		if f.Priority == PriorityCritical {
			return PriorityCritical
		}
		return PriorityHigh
	}
	if f.Priority.Validate() != nil {
		return PriorityNormal
	}
	return f.Priority
}

// FirmwareUpdateResult is the outcome of one firmware item.
type FirmwareUpdateResult struct {
	Component     ComponentType `json:"component"`
	Name          string        `json:"name,omitempty"`
	Priority      Priority      `json:"priority"`
	Success       bool          `json:"success"`
	OldVersion    string        `json:"old_version"`
	NewVersion    string        `json:"new_version,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"`
	Err           error         `json:"-"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
