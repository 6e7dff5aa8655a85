package engine

import (
	"fmt"
	"reflect"
	"time"
)

// Selection defaults.
const (
	DefaultBatchSize        = 10
	DefaultChannelATime     = 2 * time.Second
	DefaultChannelBTime     = 30 * time.Second
	ChannelBSessionOverhead = 10 * time.Second
)

// SelectionRequest is the input to the method selector.
type SelectionRequest struct {
	// Settings maps setting names to desired values.
	Settings map[string]interface{}

	// Methods is the device's MethodInfo table.
	Methods map[string]MethodInfo

	// PreferSpeed picks the faster channel for fallback-tier settings.
	// When false the channel with the better success history wins.
	PreferSpeed bool

	// BatchSize overrides DefaultBatchSize when positive.
	BatchSize int

	// Rules overrides DefaultRuleTable when non-nil.
	Rules RuleTable

	// ChannelAReadOnly routes everything to Channel B. It is set when
	// pre-flight finds that Channel A cannot write.
	ChannelAReadOnly bool
}

// Validate checks the request.
func (r *SelectionRequest) Validate() error {
	if r.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative: %d", r.BatchSize)
	}
	if r.Rules != nil {
		if err := r.Rules.Validate(); err != nil {
			return fmt.Errorf("invalid rule table: %w", err)
		}
	}
	return nil
}

// MethodSelector partitions settings across the two channels. It holds no
// state and is safe for concurrent use.
type MethodSelector struct{}

// NewMethodSelector creates a new method selector.
func NewMethodSelector() *MethodSelector {
	return &MethodSelector{}
}

// Select classifies every setting and builds the ordered batch groups.
// Expected data conditions are reported in the result, never as errors.
func (s *MethodSelector) Select(req SelectionRequest) (*SelectionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid selection request", err).WithCode(ErrCodeInvalidRequest)
	}

	rules := req.Rules
	if rules == nil {
		rules = DefaultRuleTable()
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}

	result := &SelectionResult{
		ChannelA:  make(map[string]interface{}),
		ChannelB:  make(map[string]interface{}),
		Unknown:   make(map[string]interface{}),
		Rationale: make(map[string]string, len(req.Settings)),
	}

	for _, name := range sortedKeys(req.Settings) {
		value := req.Settings[name]
		info, known := req.Methods[name]

		channel, rationale := s.classify(name, value, info, known, req.PreferSpeed, rules)
		if req.ChannelAReadOnly && channel == ChannelA {
			channel, rationale = ChannelB, "channel A lacks write capability"
		}

		switch channel {
		case ChannelA:
			result.ChannelA[name] = value
		case ChannelB:
			result.ChannelB[name] = value
			if known && (info.RebootRequired || info.Tier == TierChannelBOnly) {
				result.RebootRequired = append(result.RebootRequired, name)
			}
		default:
			result.Unknown[name] = value
		}
		result.Rationale[name] = rationale
		if !known {
			result.Heuristic = append(result.Heuristic, name)
		}
	}

	result.Batches = buildBatches(result, req.Methods, batchSize)
	result.EstimatedTime = estimateTotal(result.Batches)
	return result, nil
}

func (s *MethodSelector) classify(name string, value interface{}, info MethodInfo, known, preferSpeed bool, rules RuleTable) (Channel, string) {
	if known {
		switch info.Tier {
		case TierChannelAPreferred:
			return ChannelA, "tier ChannelA-preferred"
		case TierChannelBOnly:
			return ChannelB, "tier ChannelB-only (reboot required)"
		case TierChannelAFallback:
			return chooseFallback(info, preferSpeed)
		default:
			return ChannelUnknown, fmt.Sprintf("unrecognised tier %q", info.Tier)
		}
	}

	if isStructured(value) {
		return ChannelB, "structured value requires Channel B"
	}
	if channel, why, ok := rules.Classify(name); ok {
		return channel, "heuristic: " + why
	}
	return ChannelB, "heuristic: no rule matched, defaulting to Channel B"
}

// chooseFallback picks a channel for a fallback-tier setting. Ties go to
// Channel B.
func chooseFallback(info MethodInfo, preferSpeed bool) (Channel, string) {
	if preferSpeed {
		a, b := info.ChannelATime, info.ChannelBTime
		if a < b {
			return ChannelA, fmt.Sprintf("fallback tier, prefer speed: channel A %s < channel B %s", a, b)
		}
		return ChannelB, fmt.Sprintf("fallback tier, prefer speed: channel B %s <= channel A %s", b, a)
	}
	a, b := info.ChannelASuccess, info.ChannelBSuccess
	if a > b {
		return ChannelA, fmt.Sprintf("fallback tier, prefer reliability: channel A %.2f > channel B %.2f", a, b)
	}
	return ChannelB, fmt.Sprintf("fallback tier, prefer reliability: channel B %.2f >= channel A %.2f", b, a)
}

func isStructured(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	case reflect.Ptr:
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return false
		}
		return isStructured(rv.Elem().Interface())
	default:
		return false
	}
}

// buildBatches chunks Channel A settings by batch size, then gives every
// Channel B setting its own group. Names are ordered lexically within each
// channel so plans are deterministic.
func buildBatches(result *SelectionResult, methods map[string]MethodInfo, batchSize int) []BatchGroup {
	var groups []BatchGroup

	aNames := sortedKeys(result.ChannelA)
	for start := 0; start < len(aNames); start += batchSize {
		end := start + batchSize
		if end > len(aNames) {
			end = len(aNames)
		}
		g := BatchGroup{Channel: ChannelA, Settings: make(map[string]interface{}, end-start)}
		for _, name := range aNames[start:end] {
			g.Settings[name] = result.ChannelA[name]
			if t := channelTime(methods, name, ChannelA); t > g.EstimatedTime {
				g.EstimatedTime = t
			}
		}
		groups = append(groups, g)
	}

	for _, name := range sortedKeys(result.ChannelB) {
		groups = append(groups, BatchGroup{
			Channel:       ChannelB,
			Settings:      map[string]interface{}{name: result.ChannelB[name]},
			EstimatedTime: channelTime(methods, name, ChannelB),
		})
	}

	for i := range groups {
		groups[i].Index = i + 1
	}
	return groups
}

func channelTime(methods map[string]MethodInfo, name string, ch Channel) time.Duration {
	info, ok := methods[name]
	if ch == ChannelA {
		if ok && info.ChannelATime > 0 {
			return info.ChannelATime
		}
		return DefaultChannelATime
	}
	if ok && info.ChannelBTime > 0 {
		return info.ChannelBTime
	}
	return DefaultChannelBTime
}

// estimateTotal sums the Channel A batch time and the Channel B time plus
// one session overhead. Groups run one after another, so the channels do not
// overlap.
func estimateTotal(groups []BatchGroup) time.Duration {
	var a, b time.Duration
	var hasB bool
	for _, g := range groups {
		if g.Channel == ChannelA {
			a += g.EstimatedTime
			continue
		}
		b += g.EstimatedTime
		hasB = true
	}
	if hasB {
		b += ChannelBSessionOverhead
	}
	return a + b
}

// SummarizeByChannel returns how many settings and batches were routed to
// each partition.
func SummarizeByChannel(r *SelectionResult) []ChannelCount {
	counts := []ChannelCount{
		{Channel: ChannelA, Settings: len(r.ChannelA)},
		{Channel: ChannelB, Settings: len(r.ChannelB)},
		{Channel: ChannelUnknown, Settings: len(r.Unknown)},
	}
	for _, g := range r.Batches {
		for i := range counts {
			if counts[i].Channel == g.Channel {
				counts[i].Batches++
			}
		}
	}
	return counts
}

// ChannelCount is a per-channel summary of a selection.
type ChannelCount struct {
	Channel  Channel
	Settings int
	Batches  int
}
