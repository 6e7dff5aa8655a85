package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/biosctl/pkg/channels"
	"github.com/openfroyo/biosctl/pkg/engine"
)

const testProfile = `
name: r650
preserve:
  - mac_address_*
required:
  - BootMode
methods:
  BootMode:
    tier: ChannelA-preferred
  SecureBoot:
    tier: ChannelA-preferred
  MemoryTiming:
    tier: ChannelB-only
`

const testTemplate = `
id: uefi-secure
settings:
  BootMode: UEFI
  SecureBoot: Enabled
`

const testSnapshot = `
target: server-01
settings:
  BootMode: Legacy
  SecureBoot: Disabled
  MemoryTiming: Manual
  mac_address_lan1: AA:BB:CC:DD:EE:FF
`

type fixture struct {
	dir      string
	profile  string
	template string
	snapshot string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}
	return fixture{
		dir:      dir,
		profile:  write("r650.yaml", testProfile),
		template: write("uefi-secure.yaml", testTemplate),
		snapshot: write("server-01.yaml", testSnapshot),
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "plan", "-p", f.profile, "-t", f.template, "-s", f.snapshot)
	if err != nil {
		t.Fatalf("plan failed: %v\n%s", err, out)
	}
	for _, want := range []string{"server-01", "2 change(s)", "BootMode", "channel_a", "Estimated time"} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output missing %q:\n%s", want, out)
		}
	}

	// Planning never writes.
	snap, err := channels.LoadSnapshot(f.snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Settings["BootMode"] != "Legacy" {
		t.Errorf("plan modified the snapshot: %v", snap.Settings)
	}
}

func TestPlanCommand_JSON(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "--json", "plan", "-p", f.profile, "-t", f.template, "-s", f.snapshot, "--target", "rack4-u12")
	if err != nil {
		t.Fatalf("plan failed: %v\n%s", err, out)
	}
	var results []engine.ReconcileResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].Target != "rack4-u12" || !results[0].DryRun {
		t.Errorf("results = %+v", results)
	}
}

func TestApplyAndHistory(t *testing.T) {
	f := newFixture(t)
	db := filepath.Join(f.dir, "biosctl.db")

	out, err := execute(t, "--db", db, "apply", "-p", f.profile, "-t", f.template, "-s", f.snapshot)
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed") {
		t.Errorf("apply output:\n%s", out)
	}

	snap, err := channels.LoadSnapshot(f.snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Settings["BootMode"] != "UEFI" || snap.Settings["SecureBoot"] != "Enabled" {
		t.Errorf("settings not applied: %v", snap.Settings)
	}
	if snap.Settings["mac_address_lan1"] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("preserved setting changed: %v", snap.Settings)
	}

	out, err = execute(t, "--db", db, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "server-01") || !strings.Contains(out, "reconcile") {
		t.Errorf("history output:\n%s", out)
	}
}

func TestApplyCommand_RejectsMismatchedTargets(t *testing.T) {
	f := newFixture(t)
	_, err := execute(t, "apply", "-p", f.profile, "-t", f.template, "-s", f.snapshot, "--target", "a", "--target", "b")
	if err == nil {
		t.Fatal("expected error for mismatched --target count")
	}
}

func TestFirmwareCommand_DryRun(t *testing.T) {
	f := newFixture(t)
	inv := filepath.Join(f.dir, "fw.yaml")
	if err := os.WriteFile(inv, []byte(`
target: server-01
items:
  - component: NIC
    current_version: "1.0"
    latest_version: "1.1"
    update_required: true
  - component: BMC
    current_version: "5.00"
    latest_version: "6.10"
    update_required: true
  - component: CPLD
    current_version: "2"
    latest_version: "2"
`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "firmware", "--inventory", inv, "--dry-run")
	if err != nil {
		t.Fatalf("firmware failed: %v\n%s", err, out)
	}
	bmc, nic := strings.Index(out, "BMC"), strings.Index(out, "NIC")
	if bmc < 0 || nic < 0 || bmc > nic {
		t.Errorf("BMC should be planned before NIC:\n%s", out)
	}
	if strings.Contains(out, "CPLD") {
		t.Errorf("up-to-date CPLD should not be planned:\n%s", out)
	}
	if !strings.Contains(out, "2 update(s) planned") {
		t.Errorf("firmware output:\n%s", out)
	}
}

func TestValidateCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "validate", "-p", f.profile, "-t", f.template)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "profile r650") || !strings.Contains(out, "template uefi-secure") {
		t.Errorf("validate output:\n%s", out)
	}

	if _, err := execute(t, "validate"); err == nil {
		t.Error("expected error without a profile")
	}
}

func TestValidateCommand_Policies(t *testing.T) {
	f := newFixture(t)
	conflicting := filepath.Join(f.dir, "legacy-secure.yaml")
	if err := os.WriteFile(conflicting, []byte(`
id: legacy-secure
settings:
  BootMode: Legacy
  SecureBoot: Enabled
`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "validate", "-p", f.profile, "-t", conflicting)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	for _, want := range []string{"policy secure-boot (error): enabled", "warning: policy secure-boot: SecureBoot Enabled requires BootMode UEFI"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "--disable-policy", "secure-boot", "validate", "-p", f.profile, "-t", conflicting)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "policy secure-boot (error): disabled") || strings.Contains(out, "warning: policy secure-boot") {
		t.Errorf("disabled policy still reported:\n%s", out)
	}

	if _, err := execute(t, "--disable-policy", "no-such-policy", "validate", "-p", f.profile); err == nil {
		t.Error("expected error for an unknown --disable-policy name")
	}
}

func TestValidateCommand_EnablePolicy(t *testing.T) {
	f := newFixture(t)
	site := filepath.Join(f.dir, "site.json")
	if err := os.WriteFile(site, []byte(`{
  "name": "site-uefi",
  "enabled": false,
  "rego": "package site.uefi\n\nimport rego.v1\n\ndeny contains \"UEFI only\" if input.settings.BootMode == \"Legacy\"\n"
}`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--policy", site, "validate", "-p", f.profile, "-t", f.template)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "policy site-uefi (error): disabled") {
		t.Errorf("validate output:\n%s", out)
	}

	out, err = execute(t, "--policy", site, "--enable-policy", "site-uefi", "validate", "-p", f.profile, "-t", f.template)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "policy site-uefi (error): enabled") {
		t.Errorf("validate output:\n%s", out)
	}
}

func TestValidateCommand_ShowPolicy(t *testing.T) {
	out, err := execute(t, "validate", "--show-policy", "virtualization")
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "policy virtualization (error, built-in)") || !strings.Contains(out, "package biosctl.virtualization") {
		t.Errorf("show-policy output:\n%s", out)
	}
	if _, err := execute(t, "validate", "--show-policy", "missing"); err == nil {
		t.Error("expected error for an unknown policy")
	}
}

func TestHistoryCommand_RequiresDB(t *testing.T) {
	if _, err := execute(t, "history"); err == nil {
		t.Error("expected error without --db")
	}
}
