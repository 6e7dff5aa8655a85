package channels

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/engine"
	"github.com/openfroyo/biosctl/pkg/transports/ssh"
)

type fakeUploader struct {
	uploads map[string]string
	err     error
}

func (f *fakeUploader) UploadFile(_ context.Context, local, remote string, _ uint32) (*ssh.FileTransferResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.uploads == nil {
		f.uploads = make(map[string]string)
	}
	f.uploads[local] = remote
	return &ssh.FileTransferResult{BytesTransferred: 42}, nil
}

func bmcItem() engine.FirmwareItem {
	return engine.FirmwareItem{
		Component:      engine.ComponentBMC,
		Name:           "iDRAC",
		CurrentVersion: "5.00",
		LatestVersion:  "6.10",
		UpdateRequired: true,
		Priority:       engine.PriorityCritical,
	}
}

func TestToolFirmwareUpdater_UpdateFirmware(t *testing.T) {
	runner := &scriptedRunner{handle: func(cmd string) (*Output, error) {
		if strings.HasPrefix(cmd, "fwtool version") {
			return &Output{Stdout: "6.10"}, nil
		}
		return &Output{Stdout: "flashing...\ndone"}, nil
	}}
	uploader := &fakeUploader{}
	u, err := NewToolFirmwareUpdater(runner, uploader, FirmwareConfig{
		FlashCommand:   "fwtool flash {component} {artifact} --expect {version}",
		VersionCommand: "fwtool version {component}",
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	version, err := u.UpdateFirmware(context.Background(), bmcItem(), "/var/cache/fw/idrac-6.10.bin")
	if err != nil {
		t.Fatalf("UpdateFirmware() error = %v", err)
	}
	if version != "6.10" {
		t.Errorf("version = %s, want 6.10", version)
	}
	if uploader.uploads["/var/cache/fw/idrac-6.10.bin"] != "/tmp/biosctl/idrac-6.10.bin" {
		t.Errorf("uploads = %v", uploader.uploads)
	}
	want := []string{
		"fwtool flash bmc /tmp/biosctl/idrac-6.10.bin --expect 6.10",
		"fwtool version bmc",
	}
	if diff := cmp.Diff(want, runner.ran()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestToolFirmwareUpdater_VersionFromFlashOutput(t *testing.T) {
	runner := &scriptedRunner{handle: func(string) (*Output, error) {
		return &Output{Stdout: "staging\n2.19.1\n"}, nil
	}}
	u, _ := NewToolFirmwareUpdater(runner, nil, FirmwareConfig{FlashCommand: "flash {name} {artifact}"}, zerolog.Nop())

	version, err := u.UpdateFirmware(context.Background(), bmcItem(), "/fw/bmc.bin")
	if err != nil {
		t.Fatal(err)
	}
	if version != "2.19.1" {
		t.Errorf("version = %q", version)
	}
	if got := runner.ran()[0]; got != "flash iDRAC /fw/bmc.bin" {
		t.Errorf("command = %s", got)
	}
}

func TestToolFirmwareUpdater_Failures(t *testing.T) {
	ctx := context.Background()

	failing := &scriptedRunner{handle: func(string) (*Output, error) {
		return &Output{ExitCode: 1, Stderr: "image signature invalid"}, nil
	}}
	u, _ := NewToolFirmwareUpdater(failing, nil, FirmwareConfig{FlashCommand: "flash {artifact}"}, zerolog.Nop())
	if _, err := u.UpdateFirmware(ctx, bmcItem(), "/fw/bmc.bin"); err == nil || !strings.Contains(err.Error(), "signature") {
		t.Errorf("UpdateFirmware() error = %v, want flash failure", err)
	}

	runner := &scriptedRunner{}
	u, _ = NewToolFirmwareUpdater(runner, &fakeUploader{err: errors.New("sftp: permission denied")}, FirmwareConfig{FlashCommand: "flash {artifact}"}, zerolog.Nop())
	if _, err := u.UpdateFirmware(ctx, bmcItem(), "/fw/bmc.bin"); err == nil {
		t.Error("expected staging failure")
	}
	if len(runner.ran()) != 0 {
		t.Errorf("flash ran after failed upload: %v", runner.ran())
	}

	for _, cfg := range []FirmwareConfig{{}, {FlashCommand: " "}} {
		_, err := NewToolFirmwareUpdater(runner, nil, cfg, zerolog.Nop())
		if err == nil || !strings.Contains(err.Error(), `flash_command failed "required" validation`) {
			t.Errorf("NewToolFirmwareUpdater(%+v) error = %v, want required flash_command", cfg, err)
		}
	}
}

func TestToolFirmwareUpdater_WithSequencer(t *testing.T) {
	runner := &scriptedRunner{handle: func(cmd string) (*Output, error) {
		if strings.Contains(cmd, "nic") {
			return &Output{ExitCode: 1, Stderr: "device busy"}, nil
		}
		return &Output{Stdout: "ok"}, nil
	}}
	u, _ := NewToolFirmwareUpdater(runner, nil, FirmwareConfig{FlashCommand: "flash {component} {version}"}, zerolog.Nop())

	nic := engine.FirmwareItem{Component: engine.ComponentNIC, CurrentVersion: "1", LatestVersion: "2", UpdateRequired: true, Priority: engine.PriorityNormal}
	bios := engine.FirmwareItem{Component: engine.ComponentBIOS, CurrentVersion: "1.0", LatestVersion: "1.2", UpdateRequired: true, Priority: engine.PriorityHigh}

	seq := engine.NewFirmwareSequencer(u, newMonitor())
	report, err := seq.Run(context.Background(), &engine.FirmwareRequest{Target: "server-01", Items: []engine.FirmwareItem{nic, bios}})
	if err == nil {
		t.Fatal("expected the NIC failure to be reported")
	}
	if report.AbortedBy != "" {
		t.Errorf("AbortedBy = %q, a Normal item must not abort", report.AbortedBy)
	}
	if len(report.Results) != 2 || !report.Results[0].Success || report.Results[1].Success {
		t.Errorf("Results = %+v", report.Results)
	}
	if diff := cmp.Diff([]string{"flash bios 1.2", "flash nic 2"}, runner.ran()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
