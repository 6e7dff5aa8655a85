package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/biosctl/pkg/progress"
)

// fakeFast is an in-memory Channel A backend.
type fakeFast struct {
	mu    sync.Mutex
	state map[string]interface{}

	connDown bool
	connErr  error
	caps     CapabilitySet
	capsErr  error
	getErr   error
	getPanic bool

	// reject lists 1-based SetSettings call numbers that fail.
	reject map[int]bool
	// silent accepts writes without applying them.
	silent bool
	// onSet runs after each SetSettings call with its call number.
	onSet func(call int)

	getCalls  int
	connCalls int
	setCalls  [][]string
}

func newFakeFast(state map[string]interface{}) *fakeFast {
	return &fakeFast{state: state, caps: CapabilitySet{CapabilityReadSettings: true, CapabilityWriteSettings: true}}
}

func (f *fakeFast) GetSettings(context.Context) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getPanic {
		panic("firmware returned garbage")
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make(map[string]interface{}, len(f.state))
	for k, v := range f.state {
		out[k] = v
	}
	return out, nil
}

func (f *fakeFast) SetSettings(_ context.Context, settings map[string]interface{}) (bool, error) {
	f.mu.Lock()
	f.setCalls = append(f.setCalls, sortedKeys(settings))
	call := len(f.setCalls)
	ok := !f.reject[call]
	if ok && !f.silent {
		for k, v := range settings {
			f.state[k] = v
		}
	}
	onSet := f.onSet
	f.mu.Unlock()

	if onSet != nil {
		onSet(call)
	}
	return ok, nil
}

func (f *fakeFast) TestConnection(context.Context) (bool, string, error) {
	f.mu.Lock()
	f.connCalls++
	f.mu.Unlock()
	if f.connDown || f.connErr != nil {
		return false, "BMC unreachable", f.connErr
	}
	return true, "ok", nil
}

func (f *fakeFast) DiscoverCapabilities(context.Context) (CapabilitySet, error) {
	f.mu.Lock()
	f.connCalls++
	f.mu.Unlock()
	return f.caps, f.capsErr
}

func (f *fakeFast) set(name string, value interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[name] = value
}

func (f *fakeFast) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setCalls)
}

// fakeTool is a Channel B backend writing through to a fakeFast.
type fakeTool struct {
	mu       sync.Mutex
	target   *fakeFast
	fail     map[string]bool
	probeErr error
	applied  []string
}

func (t *fakeTool) ApplySetting(_ context.Context, name string, value interface{}) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied = append(t.applied, name)
	if t.fail[name] {
		return false, nil
	}
	t.target.set(name, value)
	return true, nil
}

func (t *fakeTool) Probe(context.Context) error { return t.probeErr }

func (t *fakeTool) appliedNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.applied...)
}

// asyncFast submits batches as tasks that never finish.
type asyncFast struct {
	*fakeFast
	submitted int
}

func (a *asyncFast) SubmitSettings(context.Context, map[string]interface{}) (string, error) {
	a.submitted++
	return fmt.Sprintf("task-%d", a.submitted), nil
}

func (a *asyncFast) TaskState(context.Context, string) (TaskState, string, error) {
	return TaskRunning, "", nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	batches    map[string]int
	recoveries map[bool]int
	errors     map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{batches: map[string]int{}, recoveries: map[bool]int{}, errors: map[string]int{}}
}

func (r *fakeRecorder) RecordPhase(string, bool, time.Duration) {}
func (r *fakeRecorder) RecordBatch(channel, status string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[channel+"/"+status]++
}
func (r *fakeRecorder) RecordRecovery(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoveries[success]++
}
func (r *fakeRecorder) RecordFirmwareUpdate(string, bool, time.Duration) {}
func (r *fakeRecorder) RecordError(kind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[kind]++
}

type fakePolicy struct {
	issues []ValidationIssue
	err    error
}

func (p fakePolicy) CheckState(context.Context, string, map[string]interface{}, Diff) ([]ValidationIssue, error) {
	return p.issues, p.err
}

func serverProfile() *DeviceProfile {
	return &DeviceProfile{
		Name: "r650",
		Methods: map[string]MethodInfo{
			"BootMode":     {Tier: TierChannelAPreferred},
			"SecureBoot":   {Tier: TierChannelAPreferred},
			"MemoryTiming": {Tier: TierChannelBOnly},
		},
		Preserve: []PreservePattern{"mac_address_*"},
	}
}

func serverLive() map[string]interface{} {
	return map[string]interface{}{
		"BootMode":         "Legacy",
		"SecureBoot":       "Disabled",
		"MemoryTiming":     "Manual",
		"mac_address_lan1": "AA:BB:CC:DD:EE:FF",
	}
}

func serverTemplate() *Template {
	return &Template{ID: "uefi-secure", Settings: map[string]interface{}{
		"BootMode":     "UEFI",
		"SecureBoot":   "Enabled",
		"MemoryTiming": "Auto",
	}}
}

func fastPoll() PollConfig {
	return PollConfig{Interval: time.Millisecond, MaxWait: 10 * time.Millisecond}
}

func newRequest(t *testing.T, tmpl *Template, profile *DeviceProfile) *ReconcileRequest {
	t.Helper()
	req, err := NewReconcileRequest(ReconcileRequest{
		Target:      "server-01",
		Template:    tmpl,
		Profile:     profile,
		CallTimeout: time.Second,
		Poll:        fastPoll(),
	})
	if err != nil {
		t.Fatalf("NewReconcileRequest() error = %v", err)
	}
	return req
}

func phaseNames(res *ReconcileResult) []Phase {
	var out []Phase
	for _, p := range res.Phases {
		out = append(out, p.Phase)
	}
	return out
}

var allPhases = []Phase{PhasePreflight, PhaseReconcile, PhaseMethodAnalysis, PhaseBatchExecution, PhasePostValidation}

func TestCoordinator_Execute_Success(t *testing.T) {
	fast := newFakeFast(serverLive())
	tool := &fakeTool{target: fast}
	monitor := progress.NewMonitor()
	coord := NewCoordinator(fast, tool, monitor)

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != progress.StatusCompleted || !res.Success {
		t.Errorf("Status = %s, Success = %v, want completed/true", res.Status, res.Success)
	}
	if diff := cmp.Diff(allPhases, phaseNames(res)); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	if res.Changed() != 3 {
		t.Errorf("Changed() = %d, want 3", res.Changed())
	}

	if len(res.Batches) != 2 {
		t.Fatalf("len(Batches) = %d, want 2", len(res.Batches))
	}
	if diff := cmp.Diff([]string{"BootMode", "SecureBoot"}, res.Batches[0].Settings); diff != "" {
		t.Errorf("batch 1 settings mismatch (-want +got):\n%s", diff)
	}
	if res.Batches[1].Channel != ChannelB {
		t.Errorf("batch 2 channel = %s, want %s", res.Batches[1].Channel, ChannelB)
	}
	if diff := cmp.Diff([]string{"MemoryTiming"}, tool.appliedNames()); diff != "" {
		t.Errorf("tool applied mismatch (-want +got):\n%s", diff)
	}
	if fast.state["mac_address_lan1"] != "AA:BB:CC:DD:EE:FF" {
		t.Error("preserved setting was modified")
	}
	if len(res.Mismatches) != 0 || len(res.Unverified) != 0 {
		t.Errorf("Mismatches = %v, Unverified = %v, want none", res.Mismatches, res.Unverified)
	}

	op, ok := monitor.Get(res.OperationID)
	if !ok {
		t.Fatal("operation not found in monitor")
	}
	if op.Status != progress.StatusCompleted || op.Percentage != 100 {
		t.Errorf("monitor status = %s, percentage = %v", op.Status, op.Percentage)
	}
	wantSubtasks := []string{"preflight", "reconcile", "method_analysis", "batch-001-a", "batch-002-b", "post_validation"}
	if diff := cmp.Diff(wantSubtasks, op.CompletedSubtasks); diff != "" {
		t.Errorf("completed subtasks mismatch (-want +got):\n%s", diff)
	}
	if op.TotalSubtasks != len(wantSubtasks) {
		t.Errorf("TotalSubtasks = %d, want %d", op.TotalSubtasks, len(wantSubtasks))
	}
}

func TestCoordinator_Execute_DryRun(t *testing.T) {
	fast := newFakeFast(serverLive())
	// Every write would fail; the plan must still succeed.
	fast.reject = map[int]bool{1: true}
	tool := &fakeTool{target: fast, fail: map[string]bool{"MemoryTiming": true}}
	coord := NewCoordinator(fast, tool, progress.NewMonitor())

	req := newRequest(t, serverTemplate(), serverProfile())
	req.DryRun = true
	res, err := coord.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || !res.DryRun || res.Status != progress.StatusCompleted {
		t.Errorf("Success = %v, DryRun = %v, Status = %s", res.Success, res.DryRun, res.Status)
	}
	if fast.writes() != 0 || len(tool.appliedNames()) != 0 {
		t.Errorf("dry run wrote to the target: fast=%d tool=%v", fast.writes(), tool.appliedNames())
	}
	if res.Selection == nil || len(res.Selection.Batches) != 2 {
		t.Fatalf("Selection = %+v, want a two batch plan", res.Selection)
	}
	for _, p := range []Phase{PhaseBatchExecution, PhasePostValidation} {
		pr, ok := res.Phase(p)
		if !ok || !pr.Skipped {
			t.Errorf("phase %s = %+v, want skipped", p, pr)
		}
	}
	if fast.state["BootMode"] != "Legacy" {
		t.Errorf("BootMode = %v, want untouched", fast.state["BootMode"])
	}
}

func TestCoordinator_Execute_NoChanges(t *testing.T) {
	live := serverLive()
	live["BootMode"], live["SecureBoot"], live["MemoryTiming"] = "UEFI", "Enabled", "Auto"
	fast := newFakeFast(live)
	coord := NewCoordinator(fast, &fakeTool{target: fast}, progress.NewMonitor())

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.Changed() != 0 {
		t.Errorf("Success = %v, Changed = %d, want true/0", res.Success, res.Changed())
	}
	if res.Selection != nil || fast.writes() != 0 {
		t.Error("no-op reconciliation should not analyse or write")
	}
	if fast.getCalls != 1 {
		t.Errorf("GetSettings called %d times, want 1", fast.getCalls)
	}
	if diff := cmp.Diff(allPhases[:2], phaseNames(res)[:2]); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
}

func TestCoordinator_Execute_PreflightFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeFast, *fakeTool)
		code  string
	}{
		{
			name:  "connection down",
			setup: func(f *fakeFast, _ *fakeTool) { f.connDown = true },
			code:  ErrCodeConnectionFailed,
		},
		{
			name:  "connection error",
			setup: func(f *fakeFast, _ *fakeTool) { f.connErr = errors.New("i/o timeout") },
			code:  ErrCodeConnectionFailed,
		},
		{
			name:  "capability probe",
			setup: func(f *fakeFast, _ *fakeTool) { f.capsErr = errors.New("404") },
			code:  ErrCodeCapabilityProbe,
		},
		{
			name:  "tool missing",
			setup: func(_ *fakeFast, tl *fakeTool) { tl.probeErr = errors.New("racadm not found") },
			code:  ErrCodeCapabilityProbe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fast := newFakeFast(serverLive())
			tool := &fakeTool{target: fast}
			tt.setup(fast, tool)
			coord := NewCoordinator(fast, tool, progress.NewMonitor())

			res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
			if !IsConnectivity(err) {
				t.Fatalf("Execute() error = %v, want connectivity error", err)
			}
			if !errors.Is(err, &EngineError{Kind: ErrorKindConnectivity, Code: tt.code}) {
				t.Errorf("error code mismatch: %v", err)
			}
			if res.Status != progress.StatusFailed {
				t.Errorf("Status = %s, want failed", res.Status)
			}
			if fast.getCalls != 0 || fast.writes() != 0 {
				t.Error("phases after pre-flight ran")
			}
			if diff := cmp.Diff([]Phase{PhasePreflight}, phaseNames(res)); diff != "" {
				t.Errorf("phases mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCoordinator_Execute_RejectsPreservedTemplate(t *testing.T) {
	fast := newFakeFast(serverLive())
	coord := NewCoordinator(fast, &fakeTool{target: fast}, progress.NewMonitor())

	tmpl := serverTemplate()
	tmpl.Settings["mac_address_lan1"] = "11:22:33:44:55:66"
	res, err := coord.Execute(context.Background(), newRequest(t, tmpl, serverProfile()))
	if !IsValidation(err) {
		t.Fatalf("Execute() error = %v, want validation error", err)
	}
	if fast.writes() != 0 {
		t.Error("execution started despite validation failure")
	}
	if len(res.Issues) != 1 || res.Issues[0].Kind != IssueTemplatePreserved {
		t.Errorf("Issues = %v", res.Issues)
	}
	if res.Status != progress.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
}

func TestCoordinator_Execute_PolicyDenied(t *testing.T) {
	fast := newFakeFast(serverLive())
	policy := fakePolicy{issues: []ValidationIssue{{Kind: IssuePolicy, Rule: "no-legacy", Message: "denied"}}}
	coord := NewCoordinator(fast, &fakeTool{target: fast}, progress.NewMonitor(), WithPolicyChecker(policy))

	_, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if !errors.Is(err, &EngineError{Kind: ErrorKindValidation, Code: ErrCodePolicyDenied}) {
		t.Fatalf("Execute() error = %v, want policy denial", err)
	}
	if fast.writes() != 0 {
		t.Error("execution started despite policy denial")
	}
}

func TestCoordinator_Execute_RecoversFailedBatch(t *testing.T) {
	fast := newFakeFast(serverLive())
	fast.reject = map[int]bool{1: true}
	tool := &fakeTool{target: fast}
	rec := newFakeRecorder()
	coord := NewCoordinator(fast, tool, progress.NewMonitor(), WithRecorder(rec))

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, want true after recovery")
	}
	b := res.Batches[0]
	if b.Status != BatchStatusRecovered || b.Error == "" {
		t.Errorf("batch 1 = %+v, want recovered with error text", b)
	}
	if len(b.Recovery) != 2 || !b.Recovery[0].Success || !b.Recovery[1].Success {
		t.Errorf("Recovery = %+v", b.Recovery)
	}
	if diff := cmp.Diff([]string{"BootMode", "SecureBoot", "MemoryTiming"}, tool.appliedNames()); diff != "" {
		t.Errorf("tool applied mismatch (-want +got):\n%s", diff)
	}
	if fast.state["BootMode"] != "UEFI" || fast.state["SecureBoot"] != "Enabled" {
		t.Errorf("recovered settings not applied: %v", fast.state)
	}
	if rec.recoveries[true] != 2 || rec.batches["channel_a/recovered"] != 1 {
		t.Errorf("recorder recoveries = %v batches = %v", rec.recoveries, rec.batches)
	}
}

func TestCoordinator_Execute_FailedRecoveryContinues(t *testing.T) {
	fast := newFakeFast(serverLive())
	fast.reject = map[int]bool{1: true}
	tool := &fakeTool{target: fast, fail: map[string]bool{"SecureBoot": true}}
	coord := NewCoordinator(fast, tool, progress.NewMonitor())

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if !IsChannelExecution(err) {
		t.Fatalf("Execute() error = %v, want channel execution error", err)
	}
	if res.Success || res.Status != progress.StatusFailed {
		t.Errorf("Success = %v, Status = %s", res.Success, res.Status)
	}
	if res.Batches[0].Status != BatchStatusFailed {
		t.Errorf("batch 1 status = %s, want failed", res.Batches[0].Status)
	}
	// The later Channel B group still runs.
	if len(res.Batches) != 2 || res.Batches[1].Status != BatchStatusSucceeded {
		t.Errorf("Batches = %+v", res.Batches)
	}
	if pr, _ := res.Phase(PhasePostValidation); pr.Success {
		t.Error("post-validation should report the unapplied SecureBoot")
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Name != "SecureBoot" {
		t.Errorf("Mismatches = %+v", res.Mismatches)
	}
}

func TestCoordinator_Execute_PollTimeoutFallsBack(t *testing.T) {
	base := newFakeFast(serverLive())
	fast := &asyncFast{fakeFast: base}
	tool := &fakeTool{target: base}
	coord := NewCoordinator(fast, tool, progress.NewMonitor())

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fast.submitted != 1 {
		t.Errorf("submitted = %d, want 1", fast.submitted)
	}
	b := res.Batches[0]
	if b.Status != BatchStatusRecovered {
		t.Errorf("batch 1 status = %s, want recovered", b.Status)
	}
	if b.Error == "" {
		t.Error("batch 1 should carry the poll timeout")
	}
}

func TestCoordinator_Execute_CancelBetweenBatches(t *testing.T) {
	methods := make(map[string]MethodInfo)
	live := make(map[string]interface{})
	settings := make(map[string]interface{})
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("Option%d", i)
		methods[name] = MethodInfo{Tier: TierChannelAPreferred}
		live[name] = "off"
		settings[name] = "on"
	}

	monitor := progress.NewMonitor()
	opID := monitor.Create(KindReconcile, "server-01")

	fast := newFakeFast(live)
	fast.onSet = func(call int) {
		if call == 2 {
			if err := monitor.RequestCancellation(opID, "operator abort"); err != nil {
				t.Errorf("RequestCancellation() error = %v", err)
			}
		}
	}
	coord := NewCoordinator(fast, &fakeTool{target: fast}, monitor)

	req := newRequest(t, &Template{ID: "five", Settings: settings}, &DeviceProfile{Methods: methods, BatchSize: 1})
	req.OperationID = opID
	res, err := coord.Execute(context.Background(), req)
	if !IsCancelled(err) {
		t.Fatalf("Execute() error = %v, want cancelled", err)
	}
	if res.Status != progress.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", res.Status)
	}
	if len(res.Batches) != 2 || res.Batches[0].Index != 1 || res.Batches[1].Index != 2 {
		t.Fatalf("Batches = %+v, want exactly batches 1 and 2", res.Batches)
	}
	if fast.writes() != 2 {
		t.Errorf("SetSettings called %d times, want 2", fast.writes())
	}
	if fast.state["Option3"] != "off" {
		t.Error("batch 3 was attempted")
	}

	op, _ := monitor.Get(opID)
	if op.Status != progress.StatusCancelled || op.CancelReason != "operator abort" {
		t.Errorf("monitor status = %s reason = %q", op.Status, op.CancelReason)
	}
	if diff := cmp.Diff([]string{"preflight", "reconcile", "method_analysis", "batch-001-a", "batch-002-a"}, op.CompletedSubtasks); diff != "" {
		t.Errorf("completed subtasks mismatch (-want +got):\n%s", diff)
	}
}

func TestCoordinator_Execute_ContextCancelled(t *testing.T) {
	fast := newFakeFast(serverLive())
	coord := NewCoordinator(fast, &fakeTool{target: fast}, progress.NewMonitor())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := coord.Execute(ctx, newRequest(t, serverTemplate(), serverProfile()))
	if !IsCancelled(err) || res.Status != progress.StatusCancelled {
		t.Fatalf("Execute() = %s, %v, want cancelled", res.Status, err)
	}
	if fast.connCalls != 0 || fast.getCalls != 0 {
		t.Errorf("backend called after cancellation: %d pre-flight, %d pull", fast.connCalls, fast.getCalls)
	}
	if len(res.Phases) != 0 {
		t.Errorf("Phases = %+v, want none", res.Phases)
	}
}

func TestCoordinator_Execute_CancelledBeforeStart(t *testing.T) {
	monitor := progress.NewMonitor()
	opID := monitor.Create(KindReconcile, "server-01")
	if err := monitor.RequestCancellation(opID, "maintenance window closed"); err != nil {
		t.Fatalf("RequestCancellation() error = %v", err)
	}
	fast := newFakeFast(serverLive())
	tool := &fakeTool{target: fast}
	coord := NewCoordinator(fast, tool, monitor)

	req := newRequest(t, serverTemplate(), serverProfile())
	req.OperationID = opID
	res, err := coord.Execute(context.Background(), req)
	if !IsCancelled(err) || res.Status != progress.StatusCancelled {
		t.Fatalf("Execute() = %s, %v, want cancelled", res.Status, err)
	}
	if fast.connCalls != 0 {
		t.Errorf("pre-flight ran %d backend call(s) after cancellation", fast.connCalls)
	}
	op, _ := monitor.Get(opID)
	if op.Status != progress.StatusCancelled || op.CancelReason != "maintenance window closed" {
		t.Errorf("monitor status = %s reason = %q", op.Status, op.CancelReason)
	}
}

func TestCoordinator_Execute_ReadOnlyChannelA(t *testing.T) {
	fast := newFakeFast(serverLive())
	fast.caps = CapabilitySet{CapabilityReadSettings: true}
	tool := &fakeTool{target: fast}
	coord := NewCoordinator(fast, tool, progress.NewMonitor())

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fast.writes() != 0 || len(res.Batches) != 3 {
		t.Errorf("writes = %d, batches = %d, want 0/3", fast.writes(), len(res.Batches))
	}
}

func TestCoordinator_Execute_UnroutedSettingFails(t *testing.T) {
	fast := newFakeFast(serverLive())
	profile := serverProfile()
	profile.Methods["Virtualization"] = MethodInfo{Tier: "experimental"}
	tmpl := serverTemplate()
	tmpl.Settings["Virtualization"] = "Enabled"
	coord := NewCoordinator(fast, &fakeTool{target: fast}, progress.NewMonitor())

	res, err := coord.Execute(context.Background(), newRequest(t, tmpl, profile))
	if err == nil || res.Success {
		t.Fatal("Execute() succeeded with an unrouted setting")
	}
	if _, ok := res.Selection.Unknown["Virtualization"]; !ok {
		t.Errorf("Unknown = %v", res.Selection.Unknown)
	}
	// Routed settings are still applied.
	if fast.state["BootMode"] != "UEFI" {
		t.Errorf("BootMode = %v, want UEFI", fast.state["BootMode"])
	}
	if _, ok := fast.state["Virtualization"]; ok {
		t.Error("unrouted setting was written")
	}
}

func TestCoordinator_Execute_SilentBackendMismatch(t *testing.T) {
	fast := newFakeFast(serverLive())
	fast.silent = true
	coord := NewCoordinator(fast, &fakeTool{target: fast}, progress.NewMonitor())

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if !IsValidation(err) {
		t.Fatalf("Execute() error = %v, want validation error", err)
	}
	if pr, _ := res.Phase(PhaseBatchExecution); !pr.Success {
		t.Error("batch execution outcome should not change after post-validation")
	}
	want := []Mismatch{
		{Name: "BootMode", Desired: "UEFI", Actual: "Legacy"},
		{Name: "SecureBoot", Desired: "Enabled", Actual: "Disabled"},
	}
	if diff := cmp.Diff(want, res.Mismatches); diff != "" {
		t.Errorf("Mismatches mismatch (-want +got):\n%s", diff)
	}
}

func TestCoordinator_Execute_PanicBecomesFailure(t *testing.T) {
	fast := newFakeFast(serverLive())
	fast.getPanic = true
	monitor := progress.NewMonitor()
	coord := NewCoordinator(fast, &fakeTool{target: fast}, monitor)

	res, err := coord.Execute(context.Background(), newRequest(t, serverTemplate(), serverProfile()))
	if !errors.Is(err, &EngineError{Kind: ErrorKindInternal, Code: ErrCodePanic}) {
		t.Fatalf("Execute() error = %v, want internal panic error", err)
	}
	if res.Status != progress.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if op, _ := monitor.Get(res.OperationID); op.Status != progress.StatusFailed {
		t.Errorf("monitor status = %s, want failed", op.Status)
	}
}

func TestCoordinator_Execute_InvalidRequest(t *testing.T) {
	coord := NewCoordinator(newFakeFast(nil), nil, progress.NewMonitor())

	if res, err := coord.Execute(context.Background(), nil); !IsValidation(err) || res == nil {
		t.Errorf("Execute(nil) = %v, %v", res, err)
	}
	_, err := coord.Execute(context.Background(), &ReconcileRequest{Target: "server-01"})
	if !errors.Is(err, &EngineError{Kind: ErrorKindValidation, Code: ErrCodeInvalidRequest}) {
		t.Errorf("Execute() without template error = %v", err)
	}
	if _, err := NewReconcileRequest(ReconcileRequest{Template: serverTemplate()}); !IsValidation(err) {
		t.Errorf("NewReconcileRequest() without target error = %v", err)
	}
}
