package engine

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// IssueKind classifies a validation issue.
type IssueKind string

const (
	IssuePreserveViolation IssueKind = "preserve_violation"
	IssuePreserveMissing   IssueKind = "preserve_missing"
	IssueTemplatePreserved IssueKind = "template_preserved"
	IssueRequiredMissing   IssueKind = "required_missing"
	IssueConflict          IssueKind = "conflict"
	IssuePolicy            IssueKind = "policy"
)

// ValidationIssue is one structured validation diagnostic.
type ValidationIssue struct {
	Kind    IssueKind `json:"kind"`
	Setting string    `json:"setting,omitempty"`
	Rule    string    `json:"rule,omitempty"`
	Message string    `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.Setting != "" {
		return fmt.Sprintf("%s: %s: %s", i.Kind, i.Setting, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}

// ReconciliationResult is the staged state produced from a template.
type ReconciliationResult struct {
	// TemplateID identifies the applied template.
	TemplateID string `json:"template_id"`

	// ModifiedAt is when the staged state was produced.
	ModifiedAt time.Time `json:"modified_at"`

	// State is the live configuration with staged writes applied.
	State map[string]interface{} `json:"state"`

	// Diff lists the staged writes in template name order.
	Diff Diff `json:"diff"`

	// Skipped lists template entries ignored because they match a preserve pattern.
	Skipped []string `json:"skipped,omitempty"`
}

// IsNoop reports whether the reconciliation staged no writes.
func (r *ReconciliationResult) IsNoop() bool {
	return len(r.Diff) == 0
}

// ValidationRules are the device constraints checked before execution.
type ValidationRules struct {
	Preserve  []PreservePattern
	Required  []string
	Conflicts []ConflictRule
}

// RulesFromProfile extracts the validation rules of a device profile.
func RulesFromProfile(p *DeviceProfile) ValidationRules {
	if p == nil {
		return ValidationRules{}
	}
	return ValidationRules{Preserve: p.Preserve, Required: p.Required, Conflicts: p.Conflicts}
}

// Reconciler diffs templates against pulled configurations. It is pure apart
// from reading the clock.
type Reconciler struct {
	now func() time.Time
}

// NewReconciler creates a reconciler that stamps results with the current time.
func NewReconciler() *Reconciler {
	return &Reconciler{now: time.Now}
}

// NewReconcilerWithClock creates a reconciler with a custom clock.
func NewReconcilerWithClock(now func() time.Time) *Reconciler {
	return &Reconciler{now: now}
}

// Reconcile stages every template write that differs from the live value.
// Template entries matching a preserve pattern are skipped unconditionally.
func (r *Reconciler) Reconcile(live map[string]interface{}, tmpl *Template, preserve []PreservePattern) *ReconciliationResult {
	result := &ReconciliationResult{
		State: make(map[string]interface{}, len(live)),
	}
	for k, v := range live {
		result.State[k] = v
	}
	if tmpl == nil {
		result.ModifiedAt = r.now()
		return result
	}
	result.TemplateID = tmpl.ID

	for _, name := range sortedKeys(tmpl.Settings) {
		desired := tmpl.Settings[name]
		if matchesAny(preserve, name) {
			result.Skipped = append(result.Skipped, name)
			continue
		}
		current, exists := live[name]
		if exists && ValuesEqual(current, desired) {
			continue
		}
		result.State[name] = desired
		result.Diff = append(result.Diff, Change{Name: name, OldValue: current, NewValue: desired})
	}

	result.ModifiedAt = r.now()
	return result
}

// Validate checks a staged result against the live configuration and the
// device rules. An empty slice means the result may be executed.
func (r *Reconciler) Validate(live map[string]interface{}, result *ReconciliationResult, tmpl *Template, rules ValidationRules) []ValidationIssue {
	var issues []ValidationIssue

	for _, name := range sortedKeys(live) {
		if !matchesAny(rules.Preserve, name) {
			continue
		}
		staged, ok := result.State[name]
		if !ok {
			issues = append(issues, ValidationIssue{
				Kind: IssuePreserveMissing, Setting: name,
				Message: "preserved setting is missing from staged state",
			})
			continue
		}
		if !ValuesEqual(live[name], staged) {
			issues = append(issues, ValidationIssue{
				Kind: IssuePreserveViolation, Setting: name,
				Message: fmt.Sprintf("preserved setting changed from %v to %v", live[name], staged),
			})
		}
	}

	if tmpl != nil {
		for _, name := range sortedKeys(tmpl.Settings) {
			if !matchesAny(rules.Preserve, name) {
				continue
			}
			current, exists := live[name]
			if exists && ValuesEqual(current, tmpl.Settings[name]) {
				continue
			}
			issues = append(issues, ValidationIssue{
				Kind: IssueTemplatePreserved, Setting: name,
				Message: fmt.Sprintf("template %s attempts to modify preserved setting", tmpl.ID),
			})
		}
	}

	for _, name := range rules.Required {
		if _, ok := result.State[name]; !ok {
			issues = append(issues, ValidationIssue{
				Kind: IssueRequiredMissing, Setting: name,
				Message: "device-required setting is absent from staged state",
			})
		}
	}

	for _, rule := range rules.Conflicts {
		if !rule.Violated(result.State) {
			continue
		}
		msg := rule.Message
		if msg == "" {
			msg = fmt.Sprintf("%s=%v conflicts with %s=%v", rule.SettingA, rule.ValueA, rule.SettingB, rule.ValueB)
		}
		issues = append(issues, ValidationIssue{Kind: IssueConflict, Rule: rule.Name, Message: msg})
	}

	return issues
}

// IssuesError converts validation issues into a single validation error.
// It returns nil when there are no issues.
func IssuesError(target string, issues []ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	msgs := make([]string, len(issues))
	for i, is := range issues {
		msgs[i] = is.String()
	}
	code := ErrCodeConflict
	switch issues[0].Kind {
	case IssuePreserveViolation, IssuePreserveMissing, IssueTemplatePreserved:
		code = ErrCodePreserveViolation
	case IssueRequiredMissing:
		code = ErrCodeRequiredMissing
	case IssuePolicy:
		code = ErrCodePolicyDenied
	}
	return NewValidationError(fmt.Sprintf("%d validation issue(s)", len(issues)), fmt.Errorf("%s", strings.Join(msgs, "; "))).
		WithTarget(target).
		WithCode(code).
		WithDetail("issues", issues)
}

func matchesAny(patterns []PreservePattern, name string) bool {
	for _, p := range patterns {
		if p.Matches(name) {
			return true
		}
	}
	return false
}

// ValuesEqual compares two setting values. Scalars compare by their string
// form, so 1 equals "1"; structured values compare deeply.
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isStructured(a) || isStructured(b) {
		return reflect.DeepEqual(a, b)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
