package channels

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/engine"
	"github.com/openfroyo/biosctl/pkg/transports/ssh"
)

var _ Uploader = (*ssh.SSHClient)(nil)

// Uploader stages a local file on the management host. ssh.SSHClient
// implements it.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) (*ssh.FileTransferResult, error)
}

// FirmwareConfig holds the command templates for a vendor flash tool.
// Templates may use {component}, {name}, {artifact} and {version}.
type FirmwareConfig struct {
	// FlashCommand applies an artifact, e.g. "fwupd-tool flash {component} {artifact}".
	FlashCommand string `yaml:"flash_command" json:"flash_command" validate:"required"`

	// VersionCommand prints the running version of a component after the
	// flash. When empty the version reported by the flash command's last
	// output line is used.
	VersionCommand string `yaml:"version_command,omitempty" json:"version_command,omitempty"`

	// RemoteDir is where artifacts are staged when an uploader is set.
	RemoteDir string `yaml:"remote_dir,omitempty" json:"remote_dir,omitempty"`
}

// ToolFirmwareUpdater flashes firmware through a vendor tool.
type ToolFirmwareUpdater struct {
	runner   CommandRunner
	uploader Uploader
	config   FirmwareConfig
	logger   zerolog.Logger
}

var _ engine.FirmwareUpdater = (*ToolFirmwareUpdater)(nil)

// NewToolFirmwareUpdater creates an updater. uploader may be nil when the
// artifacts are already reachable by the runner.
func NewToolFirmwareUpdater(runner CommandRunner, uploader Uploader, config FirmwareConfig, logger zerolog.Logger) (*ToolFirmwareUpdater, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	config.FlashCommand = strings.TrimSpace(config.FlashCommand)
	if err := validateConfig("firmware", config); err != nil {
		return nil, err
	}
	if uploader != nil && config.RemoteDir == "" {
		config.RemoteDir = "/tmp/biosctl"
	}
	return &ToolFirmwareUpdater{
		runner:   runner,
		uploader: uploader,
		config:   config,
		logger:   logger.With().Str("component", "firmware-updater").Logger(),
	}, nil
}

// UpdateFirmware stages the artifact if needed, runs the flash command and
// returns the version reported afterwards.
func (u *ToolFirmwareUpdater) UpdateFirmware(ctx context.Context, item engine.FirmwareItem, artifactPath string) (string, error) {
	logger := u.logger.With().Str("firmware_component", string(item.Component)).Str("name", item.Label()).Logger()

	artifact := artifactPath
	if artifact != "" && u.uploader != nil {
		remote := path.Join(u.config.RemoteDir, filepath.Base(artifactPath))
		res, err := u.uploader.UploadFile(ctx, artifactPath, remote, 0o600)
		if err != nil {
			return "", fmt.Errorf("failed to stage artifact: %w", err)
		}
		logger.Debug().
			Str("remote_path", remote).
			Int64("bytes", res.BytesTransferred).
			Msg("Artifact staged")
		artifact = remote
	}

	out, err := u.runner.Run(ctx, u.expand(u.config.FlashCommand, item, artifact))
	if err != nil {
		return "", err
	}
	if !out.Success() {
		msg := out.Stderr
		if msg == "" {
			msg = out.Stdout
		}
		return "", fmt.Errorf("flash exited with code %d: %s", out.ExitCode, msg)
	}
	logger.Info().Dur("duration", out.Duration).Msg("Flash finished")

	if u.config.VersionCommand == "" {
		return lastLine(out.Stdout), nil
	}
	vout, err := u.runner.Run(ctx, u.expand(u.config.VersionCommand, item, artifact))
	if err != nil {
		return "", fmt.Errorf("failed to read version: %w", err)
	}
	if !vout.Success() {
		return "", fmt.Errorf("version command exited with code %d: %s", vout.ExitCode, vout.Stderr)
	}
	return lastLine(vout.Stdout), nil
}

func (u *ToolFirmwareUpdater) expand(template string, item engine.FirmwareItem, artifact string) string {
	return strings.NewReplacer(
		"{component}", ssh.ShellQuote(strings.ToLower(string(item.Component))),
		"{name}", ssh.ShellQuote(item.Label()),
		"{artifact}", ssh.ShellQuote(artifact),
		"{version}", ssh.ShellQuote(item.LatestVersion),
	).Replace(template)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
