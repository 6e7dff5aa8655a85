package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/engine"
	"github.com/openfroyo/biosctl/pkg/transports/ssh"
)

// ToolConfig holds the command templates for a vendor configuration tool.
// Templates may use {name} and {value}; both are shell-quoted on expansion.
type ToolConfig struct {
	// SetCommand applies one setting, e.g. "syscfg /bcs '' {name} {value}".
	SetCommand string `yaml:"set_command" json:"set_command" validate:"required"`

	// GetCommand reads one setting back. Output is either "Name=Value" or
	// the bare value.
	GetCommand string `yaml:"get_command,omitempty" json:"get_command,omitempty"`

	// ProbeCommand checks the tool is installed.
	ProbeCommand string `yaml:"probe_command,omitempty" json:"probe_command,omitempty"`
}

// ToolChannel applies settings one at a time through a vendor command-line
// tool.
type ToolChannel struct {
	runner CommandRunner
	config ToolConfig
	logger zerolog.Logger
}

var (
	_ engine.ToolChannel   = (*ToolChannel)(nil)
	_ engine.SettingReader = (*ToolChannel)(nil)
	_ engine.Prober        = (*ToolChannel)(nil)
)

// NewToolChannel creates a tool channel.
func NewToolChannel(runner CommandRunner, config ToolConfig, logger zerolog.Logger) (*ToolChannel, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	config.SetCommand = strings.TrimSpace(config.SetCommand)
	if err := validateConfig("tool", config); err != nil {
		return nil, err
	}
	return &ToolChannel{
		runner: runner,
		config: config,
		logger: logger.With().Str("component", "tool-channel").Logger(),
	}, nil
}

// ApplySetting runs the set command for one setting. A non-zero exit is a
// tool failure and returns false with a nil error.
func (t *ToolChannel) ApplySetting(ctx context.Context, name string, value interface{}) (bool, error) {
	rendered, err := formatValue(value)
	if err != nil {
		return false, fmt.Errorf("failed to format %s: %w", name, err)
	}
	cmd := expand(t.config.SetCommand, name, rendered)

	out, err := t.runner.Run(ctx, cmd)
	if err != nil {
		return false, fmt.Errorf("failed to run tool for %s: %w", name, err)
	}
	if !out.Success() {
		t.logger.Warn().
			Str("setting", name).
			Int("exit_code", out.ExitCode).
			Str("stderr", out.Stderr).
			Msg("Tool rejected setting")
		return false, nil
	}

	t.logger.Debug().Str("setting", name).Dur("duration", out.Duration).Msg("Setting applied")
	return true, nil
}

// ReadSetting runs the get command. The second return is false when no get
// command is configured or the tool does not know the setting.
func (t *ToolChannel) ReadSetting(ctx context.Context, name string) (interface{}, bool, error) {
	if t.config.GetCommand == "" {
		return nil, false, nil
	}

	out, err := t.runner.Run(ctx, expand(t.config.GetCommand, name, ""))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if !out.Success() {
		return nil, false, nil
	}
	return parseReadOutput(name, out.Stdout), true, nil
}

// Probe checks the tool is usable.
func (t *ToolChannel) Probe(ctx context.Context) error {
	if t.config.ProbeCommand == "" {
		if p, ok := t.runner.(engine.Prober); ok {
			return p.Probe(ctx)
		}
		return nil
	}

	out, err := t.runner.Run(ctx, t.config.ProbeCommand)
	if err != nil {
		return fmt.Errorf("tool probe failed: %w", err)
	}
	if !out.Success() {
		return fmt.Errorf("tool probe exited with code %d: %s", out.ExitCode, out.Stderr)
	}
	return nil
}

func expand(template, name, value string) string {
	return strings.NewReplacer(
		"{name}", ssh.ShellQuote(name),
		"{value}", ssh.ShellQuote(value),
	).Replace(template)
}

// formatValue renders scalars with %v and structured values as JSON.
func formatValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]interface{}, []interface{}, map[interface{}]interface{}:
		data, err := json.Marshal(normalize(v))
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// normalize converts YAML-decoded maps into JSON-encodable ones.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = normalize(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = normalize(val)
		}
		return s
	default:
		return v
	}
}

func parseReadOutput(name, stdout string) interface{} {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(key) == name {
			return parseScalar(strings.TrimSpace(value))
		}
	}
	return parseScalar(strings.TrimSpace(stdout))
}

// parseScalar decodes JSON values and falls back to the raw string.
func parseScalar(s string) interface{} {
	if s == "" {
		return s
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int(f)
		}
		return v
	}
	return s
}
