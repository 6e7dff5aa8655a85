package channels

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/engine"
)

func writeSnapshotFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server-01.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const serverSnapshot = `
target: server-01
reject: [SecureBoot]
settings:
  BootMode: Legacy
  SecureBoot: Disabled
  MemoryTiming: Manual
  CoreCount: 16
`

func TestSnapshotChannel_GetSettings(t *testing.T) {
	ch := NewSnapshotChannel(writeSnapshotFile(t, serverSnapshot), zerolog.Nop())

	got, err := ch.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	want := map[string]interface{}{
		"BootMode":     "Legacy",
		"SecureBoot":   "Disabled",
		"MemoryTiming": "Manual",
		"CoreCount":    16,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotChannel_SetSettings(t *testing.T) {
	path := writeSnapshotFile(t, serverSnapshot)
	ch := NewSnapshotChannel(path, zerolog.Nop())
	ctx := context.Background()

	ok, err := ch.SetSettings(ctx, map[string]interface{}{"BootMode": "UEFI", "NumaNodes": 2})
	if err != nil || !ok {
		t.Fatalf("SetSettings() = %v, %v", ok, err)
	}

	// A fresh channel sees the persisted state.
	got, err := NewSnapshotChannel(path, zerolog.Nop()).GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got["BootMode"] != "UEFI" || got["NumaNodes"] != 2 || got["MemoryTiming"] != "Manual" {
		t.Errorf("persisted settings = %v", got)
	}

	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Target != "server-01" || len(snap.Reject) != 1 {
		t.Errorf("snapshot metadata lost: %+v", snap)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestSnapshotChannel_RejectsBatch(t *testing.T) {
	path := writeSnapshotFile(t, serverSnapshot)
	ch := NewSnapshotChannel(path, zerolog.Nop())
	ctx := context.Background()

	ok, err := ch.SetSettings(ctx, map[string]interface{}{"BootMode": "UEFI", "SecureBoot": "Enabled"})
	if err != nil {
		t.Fatalf("SetSettings() error = %v", err)
	}
	if ok {
		t.Fatal("batch containing a rejected setting was accepted")
	}

	got, _ := ch.GetSettings(ctx)
	if got["BootMode"] != "Legacy" {
		t.Errorf("rejected batch was partially applied: %v", got)
	}
}

func TestSnapshotChannel_ReadOnly(t *testing.T) {
	path := writeSnapshotFile(t, `
capabilities: [settings.read]
settings:
  BootMode: Legacy
`)
	ch := NewSnapshotChannel(path, zerolog.Nop())
	ctx := context.Background()

	caps, err := ch.DiscoverCapabilities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !caps.Has(engine.CapabilityReadSettings) || caps.Has(engine.CapabilityWriteSettings) {
		t.Errorf("capabilities = %v", caps)
	}
	if _, err := ch.SetSettings(ctx, map[string]interface{}{"BootMode": "UEFI"}); err == nil {
		t.Error("expected error writing a read-only snapshot")
	}
}

func TestSnapshotChannel_TestConnection(t *testing.T) {
	ctx := context.Background()

	ok, msg, err := NewSnapshotChannel(writeSnapshotFile(t, serverSnapshot), zerolog.Nop()).TestConnection(ctx)
	if err != nil || !ok || msg != "4 settings" {
		t.Errorf("TestConnection() = %v, %q, %v", ok, msg, err)
	}

	ok, _, err = NewSnapshotChannel(writeSnapshotFile(t, "unreachable: true\nsettings: {}\n"), zerolog.Nop()).TestConnection(ctx)
	if err != nil || ok {
		t.Errorf("unreachable snapshot: ok = %v, err = %v", ok, err)
	}

	ok, _, err = NewSnapshotChannel(filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop()).TestConnection(ctx)
	if err != nil || ok {
		t.Errorf("missing snapshot: ok = %v, err = %v", ok, err)
	}
}

func TestLoadSnapshot_Invalid(t *testing.T) {
	if _, err := LoadSnapshot(writeSnapshotFile(t, "settings: [unterminated")); err == nil {
		t.Error("expected parse error")
	}
}
