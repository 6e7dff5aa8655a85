package engine

import (
	"fmt"
	"strings"
)

// ClassificationRule routes settings without a MethodInfo entry by keyword.
// A rule matches when any keyword is a case-insensitive substring of the
// setting name.
type ClassificationRule struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Channel  Channel  `json:"channel"`
}

// Match returns the first keyword of the rule found in the setting name.
func (r ClassificationRule) Match(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, kw := range r.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// RuleTable is an ordered list of classification rules. The first matching
// rule wins.
type RuleTable []ClassificationRule

// DefaultRuleTable returns the built-in keyword rules: terms that Channel A
// handles well, then terms only the vendor tool can set.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		{
			Name:     "channel-a-friendly",
			Keywords: []string{"boot", "power", "secure", "timeout", "turbo", "profile"},
			Channel:  ChannelA,
		},
		{
			Name:     "channel-b-only",
			Keywords: []string{"microcode", "timing", "overclock", "fan", "vendor", "proprietary"},
			Channel:  ChannelB,
		},
	}
}

// Validate checks that every rule routes to an executable channel.
func (t RuleTable) Validate() error {
	for i, r := range t {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if err := r.Channel.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("rule %s: at least one keyword is required", r.Name)
		}
	}
	return nil
}

// Classify returns the channel of the first matching rule.
func (t RuleTable) Classify(name string) (Channel, string, bool) {
	for _, r := range t {
		if kw, ok := r.Match(name); ok {
			return r.Channel, fmt.Sprintf("rule %s matched %q", r.Name, kw), true
		}
	}
	return "", "", false
}

// WithOverrides returns a table that evaluates overrides before t.
func (t RuleTable) WithOverrides(overrides RuleTable) RuleTable {
	out := make(RuleTable, 0, len(overrides)+len(t))
	out = append(out, overrides...)
	return append(out, t...)
}
