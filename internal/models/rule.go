package models

import "fmt"

// RuleKind discriminates the closed set of correlation rule variants.
type RuleKind string

const (
	RuleKindTopology   RuleKind = "topology"
	RuleKindTimeWindow RuleKind = "time_window"
	RuleKindPattern    RuleKind = "pattern"
	RuleKindFlapping   RuleKind = "flapping"
)

// AlarmRule is a tagged variant: exactly one of the payload fields matching
// Kind is set. Rules are data, loaded from a pack file, and immutable for the
// duration of an evaluation cycle.
type AlarmRule struct {
	ID         string          `yaml:"id"`
	Kind       RuleKind        `yaml:"kind"`
	Topology   *TopologyRule   `yaml:"topology,omitempty"`
	TimeWindow *TimeWindowRule `yaml:"time_window,omitempty"`
	Pattern    *PatternRule    `yaml:"pattern,omitempty"`
	Flapping   *FlappingRule   `yaml:"flapping,omitempty"`
}

// Validate checks the variant payload matches the declared kind.
func (r AlarmRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	switch r.Kind {
	case RuleKindTopology:
		if r.Topology == nil {
			return fmt.Errorf("rule %s: topology payload required", r.ID)
		}
		if r.Topology.ParentMatch.Type == "" || r.Topology.ChildMatch.Type == "" {
			return fmt.Errorf("rule %s: parent_match and child_match types required", r.ID)
		}
	case RuleKindTimeWindow:
		if r.TimeWindow == nil || r.TimeWindow.WindowSeconds <= 0 {
			return fmt.Errorf("rule %s: positive window_seconds required", r.ID)
		}
	case RuleKindPattern:
		if r.Pattern == nil || len(r.Pattern.FieldMatchers) == 0 {
			return fmt.Errorf("rule %s: at least one field matcher required", r.ID)
		}
	case RuleKindFlapping:
		if r.Flapping == nil || r.Flapping.MaxOccurrences <= 0 || r.Flapping.WindowSeconds <= 0 {
			return fmt.Errorf("rule %s: positive max_occurrences and window_seconds required", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// ResourceMatch selects resources by type and an optional id pattern.
// An empty IDPattern matches any id; otherwise it is a regular expression.
type ResourceMatch struct {
	Type      string `yaml:"type"`
	IDPattern string `yaml:"id_pattern,omitempty"`
}

// TopologyRule links child-resource alarms to a parent-resource alarm's
// group. When DesignatesRoot is set, the parent alarm is the group root
// cause regardless of arrival order.
type TopologyRule struct {
	ParentMatch    ResourceMatch `yaml:"parent_match"`
	ChildMatch     ResourceMatch `yaml:"child_match"`
	DesignatesRoot bool          `yaml:"designates_root,omitempty"`
}

// TimeWindowRule bounds how far apart two alarms may open and still join
// the same correlation group.
type TimeWindowRule struct {
	WindowSeconds int `yaml:"window_seconds"`
}

// PatternRule joins an alarm to a group whose representative alarm matches
// all field matchers.
type PatternRule struct {
	FieldMatchers []FieldMatcher `yaml:"field_matchers"`
}

// FieldMatcher compares one event field against a literal or a regular
// expression. Field is one of: resource_type, resource_id, alarm_type,
// severity, source_type, or metadata.<key>.
type FieldMatcher struct {
	Field  string `yaml:"field"`
	Equals string `yaml:"equals,omitempty"`
	Regex  string `yaml:"regex,omitempty"`
}

// FlappingRule suppresses an alarm key that re-signals more than
// MaxOccurrences times inside WindowSeconds.
type FlappingRule struct {
	MaxOccurrences int `yaml:"max_occurrences"`
	WindowSeconds  int `yaml:"window_seconds"`
}
