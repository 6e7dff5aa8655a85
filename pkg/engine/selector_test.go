package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testMethods() map[string]MethodInfo {
	return map[string]MethodInfo{
		"BootMode":        {Tier: TierChannelAPreferred, ChannelATime: 3 * time.Second},
		"SecureBoot":      {Tier: TierChannelAPreferred},
		"MemoryTiming":    {Tier: TierChannelBOnly, ChannelBTime: 45 * time.Second},
		"PowerProfile":    {Tier: TierChannelAFallback, ChannelATime: time.Second, ChannelBTime: 20 * time.Second, ChannelASuccess: 0.90, ChannelBSuccess: 0.99},
		"VirtualizationX": {Tier: "ChannelC-magic"},
	}
}

func TestMethodSelector_PartitionsInput(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
	}{
		{name: "empty", settings: map[string]interface{}{}},
		{name: "known only", settings: map[string]interface{}{"BootMode": "UEFI", "MemoryTiming": "Auto"}},
		{
			name: "mixed",
			settings: map[string]interface{}{
				"BootMode":        "UEFI",
				"SecureBoot":      "Enabled",
				"MemoryTiming":    "Auto",
				"PowerProfile":    "Performance",
				"VirtualizationX": "Enabled",
				"FanSpeedOffset":  "Low",
				"NumLock":         "On",
				"BootOrder":       []string{"pxe", "disk"},
			},
		},
	}

	selector := NewMethodSelector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := selector.Select(SelectionRequest{Settings: tt.settings, Methods: testMethods()})
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}

			seen := make(map[string]int)
			for _, part := range []map[string]interface{}{result.ChannelA, result.ChannelB, result.Unknown} {
				for name := range part {
					seen[name]++
				}
			}
			if len(seen) != len(tt.settings) {
				t.Errorf("partitions cover %d settings, want %d", len(seen), len(tt.settings))
			}
			for name := range tt.settings {
				if seen[name] != 1 {
					t.Errorf("setting %s appears in %d partitions, want 1", name, seen[name])
				}
				if result.Rationale[name] == "" {
					t.Errorf("setting %s has no rationale", name)
				}
			}
			if result.TotalSettings() != len(tt.settings) {
				t.Errorf("TotalSettings() = %d, want %d", result.TotalSettings(), len(tt.settings))
			}
		})
	}
}

func TestMethodSelector_Routing(t *testing.T) {
	settings := map[string]interface{}{
		"BootMode":        "UEFI",
		"MemoryTiming":    "Auto",
		"PowerProfile":    "Performance",
		"VirtualizationX": "Enabled",
		"FanProfile":      "Quiet",
		"MicrocodeLevel":  "Latest",
		"NumLock":         "On",
		"BootOrder":       []string{"pxe", "disk"},
	}

	result, err := NewMethodSelector().Select(SelectionRequest{Settings: settings, Methods: testMethods()})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	want := map[string]Channel{
		"BootMode":     ChannelA,
		"MemoryTiming": ChannelB,
		// Reliability mode: B has the better success rate.
		"PowerProfile":    ChannelB,
		"VirtualizationX": ChannelUnknown,
		// The channel A list is checked first.
		"FanProfile":     ChannelA,
		"MicrocodeLevel": ChannelB,
		"NumLock":        ChannelB,
		// Structured values never go through Channel A.
		"BootOrder": ChannelB,
	}
	for name, ch := range want {
		if got := result.ChannelOf(name); got != ch {
			t.Errorf("ChannelOf(%s) = %s, want %s (rationale %q)", name, got, ch, result.Rationale[name])
		}
	}

	if diff := cmp.Diff([]string{"MemoryTiming"}, result.RebootRequired); diff != "" {
		t.Errorf("RebootRequired mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"BootOrder", "FanProfile", "MicrocodeLevel", "NumLock"}, result.Heuristic); diff != "" {
		t.Errorf("Heuristic mismatch (-want +got):\n%s", diff)
	}
}

func TestChooseFallback_TieBreaks(t *testing.T) {
	tests := []struct {
		name        string
		info        MethodInfo
		preferSpeed bool
		want        Channel
	}{
		{
			name:        "speed picks faster channel A",
			info:        MethodInfo{ChannelATime: time.Second, ChannelBTime: 5 * time.Second},
			preferSpeed: true,
			want:        ChannelA,
		},
		{
			name:        "speed picks faster channel B",
			info:        MethodInfo{ChannelATime: 9 * time.Second, ChannelBTime: 5 * time.Second},
			preferSpeed: true,
			want:        ChannelB,
		},
		{
			name:        "speed tie goes to B",
			info:        MethodInfo{ChannelATime: 5 * time.Second, ChannelBTime: 5 * time.Second},
			preferSpeed: true,
			want:        ChannelB,
		},
		{
			name: "reliability picks channel A",
			info: MethodInfo{ChannelASuccess: 0.99, ChannelBSuccess: 0.95},
			want: ChannelA,
		},
		{
			name: "reliability tie goes to B",
			info: MethodInfo{ChannelASuccess: 0.97, ChannelBSuccess: 0.97},
			want: ChannelB,
		},
		{
			name: "reliability ignores speed",
			info: MethodInfo{ChannelATime: time.Millisecond, ChannelBTime: time.Hour, ChannelASuccess: 0.5, ChannelBSuccess: 0.6},
			want: ChannelB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rationale := chooseFallback(tt.info, tt.preferSpeed)
			if got != tt.want {
				t.Errorf("chooseFallback() = %s, want %s", got, tt.want)
			}
			if rationale == "" {
				t.Error("chooseFallback() returned empty rationale")
			}
		})
	}
}

func TestMethodSelector_Batches(t *testing.T) {
	methods := make(map[string]MethodInfo)
	settings := make(map[string]interface{})
	for i := 0; i < 25; i++ {
		name := fmt.Sprintf("BootOption%02d", i)
		methods[name] = MethodInfo{Tier: TierChannelAPreferred}
		settings[name] = i
	}
	settings["MemoryTiming"] = "Auto"
	settings["CpuMicrocode"] = "Latest"
	methods["MemoryTiming"] = MethodInfo{Tier: TierChannelBOnly}
	methods["CpuMicrocode"] = MethodInfo{Tier: TierChannelBOnly}

	result, err := NewMethodSelector().Select(SelectionRequest{Settings: settings, Methods: methods})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	var sizes []int
	var channels []Channel
	for i, g := range result.Batches {
		if g.Index != i+1 {
			t.Errorf("batch %d has index %d", i, g.Index)
		}
		sizes = append(sizes, g.Size())
		channels = append(channels, g.Channel)
	}
	if diff := cmp.Diff([]int{10, 10, 5, 1, 1}, sizes); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Channel{ChannelA, ChannelA, ChannelA, ChannelB, ChannelB}, channels); diff != "" {
		t.Errorf("batch channels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"CpuMicrocode"}, result.Batches[3].Names()); diff != "" {
		t.Errorf("first channel B batch mismatch (-want +got):\n%s", diff)
	}

	// Three A batches at the default estimate, two B settings plus one session.
	want := 3*DefaultChannelATime + 2*DefaultChannelBTime + ChannelBSessionOverhead
	if result.EstimatedTime != want {
		t.Errorf("EstimatedTime = %s, want %s", result.EstimatedTime, want)
	}
}

func TestMethodSelector_BatchSizeOverride(t *testing.T) {
	settings := map[string]interface{}{"BootMode": "UEFI", "SecureBoot": "Enabled", "BootTimeout": 5}
	result, err := NewMethodSelector().Select(SelectionRequest{Settings: settings, Methods: testMethods(), BatchSize: 1})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(result.Batches) != 3 {
		t.Fatalf("len(Batches) = %d, want 3", len(result.Batches))
	}
	// BootMode carries its own 3s estimate; the others use the default.
	if got := result.Batches[0].EstimatedTime; got != 3*time.Second {
		t.Errorf("Batches[0].EstimatedTime = %s, want 3s", got)
	}
	if result.EstimatedTime != 3*time.Second+2*DefaultChannelATime {
		t.Errorf("EstimatedTime = %s", result.EstimatedTime)
	}
}

func TestMethodSelector_ChannelAReadOnly(t *testing.T) {
	settings := map[string]interface{}{"BootMode": "UEFI", "SecureBoot": "Enabled"}
	result, err := NewMethodSelector().Select(SelectionRequest{Settings: settings, Methods: testMethods(), ChannelAReadOnly: true})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(result.ChannelA) != 0 || len(result.ChannelB) != 2 {
		t.Errorf("partitions A=%d B=%d, want A=0 B=2", len(result.ChannelA), len(result.ChannelB))
	}
}

func TestMethodSelector_RuleOverrides(t *testing.T) {
	rules := DefaultRuleTable().WithOverrides(RuleTable{
		{Name: "site-boot", Keywords: []string{"boot"}, Channel: ChannelB},
	})
	result, err := NewMethodSelector().Select(SelectionRequest{
		Settings: map[string]interface{}{"PxeBootRetry": 3},
		Rules:    rules,
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := result.ChannelOf("PxeBootRetry"); got != ChannelB {
		t.Errorf("ChannelOf(PxeBootRetry) = %s, want %s", got, ChannelB)
	}
}

func TestMethodSelector_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  SelectionRequest
	}{
		{name: "negative batch size", req: SelectionRequest{BatchSize: -1}},
		{name: "rule without keywords", req: SelectionRequest{Rules: RuleTable{{Name: "empty", Channel: ChannelA}}}},
		{name: "rule routes to unknown", req: SelectionRequest{Rules: RuleTable{{Name: "bad", Keywords: []string{"x"}, Channel: ChannelUnknown}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMethodSelector().Select(tt.req)
			if !IsValidation(err) {
				t.Errorf("Select() error = %v, want validation error", err)
			}
		})
	}
}

func TestIsStructured(t *testing.T) {
	var nilMap *map[string]int
	tests := []struct {
		value interface{}
		want  bool
	}{
		{nil, false},
		{"UEFI", false},
		{42, false},
		{true, false},
		{[]string{"a"}, true},
		{map[string]int{"a": 1}, true},
		{struct{ A int }{1}, true},
		{&[]int{1}, true},
		{nilMap, false},
	}
	for _, tt := range tests {
		if got := isStructured(tt.value); got != tt.want {
			t.Errorf("isStructured(%#v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestSummarizeByChannel(t *testing.T) {
	result, err := NewMethodSelector().Select(SelectionRequest{
		Settings: map[string]interface{}{"BootMode": "UEFI", "MemoryTiming": "Auto", "VirtualizationX": "On"},
		Methods:  testMethods(),
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	want := []ChannelCount{
		{Channel: ChannelA, Settings: 1, Batches: 1},
		{Channel: ChannelB, Settings: 1, Batches: 1},
		{Channel: ChannelUnknown, Settings: 1, Batches: 0},
	}
	if diff := cmp.Diff(want, SummarizeByChannel(result)); diff != "" {
		t.Errorf("SummarizeByChannel() mismatch (-want +got):\n%s", diff)
	}
}
