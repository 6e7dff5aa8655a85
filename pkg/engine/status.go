package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Channel identifies one of the two execution channels.
type Channel string

const (
	// ChannelA is the fast, batch-capable management API channel.
	ChannelA Channel = "channel_a"

	// ChannelB is the vendor tool channel. It is slower, applies one setting
	// per call and is the most authoritative.
	ChannelB Channel = "channel_b"

	// ChannelUnknown marks settings that could not be routed to a channel.
	ChannelUnknown Channel = "unknown"
)

// Validate checks if the channel is one of the executable channels.
func (c Channel) Validate() error {
	switch c {
	case ChannelA, ChannelB:
		return nil
	default:
		return fmt.Errorf("invalid channel: %q", c)
	}
}

// Short returns the compact label used in subtask names.
func (c Channel) Short() string {
	switch c {
	case ChannelA:
		return "a"
	case ChannelB:
		return "b"
	default:
		return "unknown"
	}
}

// MethodTier describes how a known setting may be applied.
type MethodTier string

const (
	// TierChannelAPreferred settings always go through Channel A.
	TierChannelAPreferred MethodTier = "ChannelA-preferred"

	// TierChannelAFallback settings may use either channel; the selector picks
	// one from estimates and success history.
	TierChannelAFallback MethodTier = "ChannelA-fallback"

	// TierChannelBOnly settings can only be applied by the vendor tool and
	// require a reboot.
	TierChannelBOnly MethodTier = "ChannelB-only"
)

// Validate checks if the tier is recognised.
func (t MethodTier) Validate() error {
	switch t {
	case TierChannelAPreferred, TierChannelAFallback, TierChannelBOnly:
		return nil
	default:
		return fmt.Errorf("invalid method tier: %q", t)
	}
}

// BatchStatus is the outcome of one batch group.
type BatchStatus string

const (
	// BatchStatusSucceeded indicates the backend applied the whole group.
	BatchStatusSucceeded BatchStatus = "succeeded"

	// BatchStatusFailed indicates the group failed and was not fully recovered.
	BatchStatusFailed BatchStatus = "failed"

	// BatchStatusRecovered indicates a Channel A group failed and every setting
	// was then applied individually through Channel B.
	BatchStatusRecovered BatchStatus = "recovered"
)

// IsSuccess returns true if the group's settings were applied.
func (s BatchStatus) IsSuccess() bool {
	return s == BatchStatusSucceeded || s == BatchStatusRecovered
}

// Phase names an execution phase. Phases double as progress subtask names.
type Phase string

const (
	PhasePreflight      Phase = "preflight"
	PhaseReconcile      Phase = "reconcile"
	PhaseMethodAnalysis Phase = "method_analysis"
	PhaseBatchExecution Phase = "batch_execution"
	PhasePostValidation Phase = "post_validation"
)

// ComponentType is the kind of firmware component.
type ComponentType string

const (
	ComponentBMC     ComponentType = "BMC"
	ComponentBIOS    ComponentType = "BIOS"
	ComponentCPLD    ComponentType = "CPLD"
	ComponentNIC     ComponentType = "NIC"
	ComponentStorage ComponentType = "Storage"
	ComponentUEFI    ComponentType = "UEFI"
)

var componentRank = map[ComponentType]int{
	ComponentBMC:     0,
	ComponentBIOS:    1,
	ComponentCPLD:    2,
	ComponentNIC:     3,
	ComponentStorage: 4,
	ComponentUEFI:    5,
}

// Rank returns the sequencing rank of the component type. Lower goes first.
func (c ComponentType) Rank() int {
	if r, ok := componentRank[c]; ok {
		return r
	}
	return len(componentRank)
}

// Validate checks if the component type is recognised.
func (c ComponentType) Validate() error {
	if _, ok := componentRank[c]; !ok {
		return fmt.Errorf("invalid component type: %q", c)
	}
	return nil
}

// ParseComponentType parses a component type case-insensitively.
func ParseComponentType(s string) (ComponentType, error) {
	for c := range componentRank {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid component type: %q", s)
}

// Priority is the declared urgency of a firmware update.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityNormal   Priority = "Normal"
	PriorityLow      Priority = "Low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// Rank returns the sequencing rank of the priority. Lower goes first.
// Unrecognised priorities rank as Normal.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// Validate checks if the priority is recognised.
func (p Priority) Validate() error {
	if _, ok := priorityRank[p]; !ok {
		return fmt.Errorf("invalid priority: %q", p)
	}
	return nil
}

// MarshalJSON implements json.Marshaler for Channel.
func (c Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

// UnmarshalJSON implements json.Unmarshaler for Channel.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Channel(s)
	if *c == ChannelUnknown {
		return nil
	}
	return c.Validate()
}
