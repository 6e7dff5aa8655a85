package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/biosctl/pkg/engine"
)

// ProfileFile is the on-disk form of a device profile.
type ProfileFile struct {
	// Name identifies the profile.
	Name string `json:"name" yaml:"name" validate:"required"`

	// DeviceType is the hardware model the profile describes.
	DeviceType string `json:"device_type,omitempty" yaml:"device_type,omitempty"`

	// BatchSize overrides the default Channel A batch size when positive.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty" validate:"gte=0"`

	// Preserve lists glob patterns of settings that are never changed.
	Preserve []string `json:"preserve,omitempty" yaml:"preserve,omitempty" validate:"dive,required"`

	// Required lists settings that must be present after reconciliation.
	Required []string `json:"required,omitempty" yaml:"required,omitempty" validate:"dive,required"`

	// Methods holds per-setting method information.
	Methods map[string]MethodSpec `json:"methods,omitempty" yaml:"methods,omitempty" validate:"dive"`

	// Conflicts are mutually exclusive setting combinations.
	Conflicts []ConflictSpec `json:"conflicts,omitempty" yaml:"conflicts,omitempty" validate:"dive"`

	// Rules are classification rules evaluated before the built-in table.
	Rules []RuleSpec `json:"rules,omitempty" yaml:"rules,omitempty" validate:"dive"`
}

// MethodSpec is the on-disk form of engine.MethodInfo. Times are Go
// duration strings such as "2s" or "1m30s".
type MethodSpec struct {
	Tier            string  `json:"tier" yaml:"tier" validate:"required,oneof=ChannelA-preferred ChannelA-fallback ChannelB-only"`
	ChannelATime    string  `json:"channel_a_time,omitempty" yaml:"channel_a_time,omitempty"`
	ChannelBTime    string  `json:"channel_b_time,omitempty" yaml:"channel_b_time,omitempty"`
	ChannelASuccess float64 `json:"channel_a_success,omitempty" yaml:"channel_a_success,omitempty" validate:"gte=0,lte=1"`
	ChannelBSuccess float64 `json:"channel_b_success,omitempty" yaml:"channel_b_success,omitempty" validate:"gte=0,lte=1"`
	Complexity      int     `json:"complexity,omitempty" yaml:"complexity,omitempty" validate:"gte=0"`
	RebootRequired  bool    `json:"reboot_required,omitempty" yaml:"reboot_required,omitempty"`
}

// ConflictSpec is the on-disk form of engine.ConflictRule.
type ConflictSpec struct {
	Name     string      `json:"name" yaml:"name" validate:"required"`
	SettingA string      `json:"setting_a" yaml:"setting_a" validate:"required"`
	ValueA   interface{} `json:"value_a" yaml:"value_a"`
	SettingB string      `json:"setting_b" yaml:"setting_b" validate:"required,nefield=SettingA"`
	ValueB   interface{} `json:"value_b" yaml:"value_b"`
	Message  string      `json:"message,omitempty" yaml:"message,omitempty"`
}

// RuleSpec is the on-disk form of engine.ClassificationRule.
type RuleSpec struct {
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Keywords []string `json:"keywords" yaml:"keywords" validate:"required,min=1,dive,required"`
	Channel  string   `json:"channel" yaml:"channel" validate:"required,oneof=channel_a channel_b"`
}

// TemplateFile is the on-disk form of a configuration template. Script and
// ScriptFile are mutually exclusive Starlark sources.
type TemplateFile struct {
	ID         string                 `json:"id" yaml:"id" validate:"required"`
	DeviceType string                 `json:"device_type,omitempty" yaml:"device_type,omitempty"`
	Settings   map[string]interface{} `json:"settings,omitempty" yaml:"settings,omitempty"`
	Script     string                 `json:"script,omitempty" yaml:"script,omitempty" validate:"excluded_with=ScriptFile"`
	ScriptFile string                 `json:"script_file,omitempty" yaml:"script_file,omitempty"`
}

// InventoryFile is a firmware inventory for one target.
type InventoryFile struct {
	Target string         `json:"target,omitempty" yaml:"target,omitempty"`
	Items  []FirmwareSpec `json:"items" yaml:"items" validate:"required,min=1,dive"`
}

// FirmwareSpec is the on-disk form of engine.FirmwareItem.
type FirmwareSpec struct {
	Component      string `json:"component" yaml:"component" validate:"required,oneof=BMC BIOS CPLD NIC Storage UEFI"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	CurrentVersion string `json:"current_version,omitempty" yaml:"current_version,omitempty"`
	LatestVersion  string `json:"latest_version" yaml:"latest_version" validate:"required"`
	UpdateRequired bool   `json:"update_required,omitempty" yaml:"update_required,omitempty"`
	Priority       string `json:"priority,omitempty" yaml:"priority,omitempty" validate:"omitempty,oneof=Critical High Normal Low"`
	EstimatedTime  string `json:"estimated_time,omitempty" yaml:"estimated_time,omitempty"`
	RebootRequired bool   `json:"reboot_required,omitempty" yaml:"reboot_required,omitempty"`
	Artifact       string `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Checksum       string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// ValidationError is a single problem found while loading a file.
type ValidationError struct {
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

// StarlarkResult is the outcome of a template script.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output"`

	// Inputs holds the predeclared inputs after the script ran.
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	// ExecutionTime is how long the script ran.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is the script error, if any.
	Error string `json:"error,omitempty"`
}

// ToDeviceProfile converts the file form into an engine profile.
func (p *ProfileFile) ToDeviceProfile() (*engine.DeviceProfile, error) {
	out := &engine.DeviceProfile{
		Name:      p.Name,
		BatchSize: p.BatchSize,
		Required:  append([]string(nil), p.Required...),
		Methods:   make(map[string]engine.MethodInfo, len(p.Methods)),
	}
	for _, pat := range p.Preserve {
		out.Preserve = append(out.Preserve, engine.PreservePattern(pat))
	}
	for name, m := range p.Methods {
		info, err := m.toMethodInfo()
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", name, err)
		}
		out.Methods[name] = info
	}
	for _, c := range p.Conflicts {
		out.Conflicts = append(out.Conflicts, engine.ConflictRule{
			Name:     c.Name,
			SettingA: c.SettingA,
			ValueA:   c.ValueA,
			SettingB: c.SettingB,
			ValueB:   c.ValueB,
			Message:  c.Message,
		})
	}
	for _, r := range p.Rules {
		out.Rules = append(out.Rules, engine.ClassificationRule{
			Name:     r.Name,
			Keywords: append([]string(nil), r.Keywords...),
			Channel:  engine.Channel(r.Channel),
		})
	}
	if len(out.Rules) > 0 {
		if err := out.Rules.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m MethodSpec) toMethodInfo() (engine.MethodInfo, error) {
	a, err := parseDuration(m.ChannelATime)
	if err != nil {
		return engine.MethodInfo{}, fmt.Errorf("channel_a_time: %w", err)
	}
	b, err := parseDuration(m.ChannelBTime)
	if err != nil {
		return engine.MethodInfo{}, fmt.Errorf("channel_b_time: %w", err)
	}
	return engine.MethodInfo{
		Tier:            engine.MethodTier(m.Tier),
		ChannelATime:    a,
		ChannelBTime:    b,
		ChannelASuccess: m.ChannelASuccess,
		ChannelBSuccess: m.ChannelBSuccess,
		Complexity:      m.Complexity,
		RebootRequired:  m.RebootRequired,
	}, nil
}

// ToFirmwareItems converts the inventory into engine items.
func (f *InventoryFile) ToFirmwareItems() ([]engine.FirmwareItem, error) {
	items := make([]engine.FirmwareItem, 0, len(f.Items))
	for i, s := range f.Items {
		est, err := parseDuration(s.EstimatedTime)
		if err != nil {
			return nil, fmt.Errorf("item %d: estimated_time: %w", i, err)
		}
		items = append(items, engine.FirmwareItem{
			Component:      engine.ComponentType(s.Component),
			Name:           s.Name,
			CurrentVersion: s.CurrentVersion,
			LatestVersion:  s.LatestVersion,
			UpdateRequired: s.UpdateRequired,
			Priority:       engine.Priority(s.Priority),
			EstimatedTime:  est,
			RebootRequired: s.RebootRequired,
			ArtifactPath:   s.Artifact,
			Checksum:       s.Checksum,
		})
	}
	return items, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative: %s", s)
	}
	return d, nil
}
