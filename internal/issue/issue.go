package issue

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Severity is the two-level issue taxonomy. Only critical issues block convergence.
type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
)

// Rule identifies the check that produced an issue. Values are wire-visible.
type Rule string

const (
	RuleFlowName           Rule = "flow-name"
	RuleFlowStructure      Rule = "flow-structure"
	RuleRequiredComponent  Rule = "required-component"
	RuleAfterAllConnection Rule = "afterall-connection"
	RuleSourceMismatch     Rule = "source-mismatch"
	RuleVariableMapping    Rule = "variable-mapping"
	RuleVariablePath       Rule = "variable-path"
	RuleProcessConfig      Rule = "process-config"
	RuleProcessResult      Rule = "process-result"

	RuleInputRequired   Rule = "input-coverage-required"
	RuleInputOptional   Rule = "input-coverage-optional"
	RuleUnknownField    Rule = "unknown-field"
	RuleMeaninglessData Rule = "meaningless-data"
	RuleInvalidEnum     Rule = "invalid-enum"
	RuleTypeMismatch    Rule = "type-mismatch"
)

// Issue is a single validation finding. Component is empty for flow-level findings.
type Issue struct {
	Severity  Severity `json:"severity"`
	Component string   `json:"component"`
	Rule      Rule     `json:"rule"`
	Message   string   `json:"message"`
}

func New(sev Severity, component string, rule Rule, format string, args ...any) Issue {
	return Issue{Severity: sev, Component: component, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func (i Issue) IsCritical() bool { return i.Severity == Critical }

func (i Issue) String() string {
	if i.Component == "" {
		return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Rule, i.Message)
	}
	return fmt.Sprintf("[%s] %s (%s): %s", i.Severity, i.Rule, i.Component, i.Message)
}

// MarshalJSON writes an empty Component as null, the wire form of a
// flow-level finding.
func (i Issue) MarshalJSON() ([]byte, error) {
	var comp *string
	if i.Component != "" {
		comp = &i.Component
	}
	return json.Marshal(struct {
		Severity  Severity `json:"severity"`
		Component *string  `json:"component"`
		Rule      Rule     `json:"rule"`
		Message   string   `json:"message"`
	}{i.Severity, comp, i.Rule, i.Message})
}

type key struct {
	rule      Rule
	component string
}

func (i Issue) key() key { return key{rule: i.Rule, component: i.Component} }

// Merge returns a followed by the members of b whose (Rule, Component) pair
// is not already present. The first occurrence always wins, so deterministic
// findings passed as a are never replaced by findings from b.
func Merge(a, b []Issue) []Issue {
	out := make([]Issue, 0, len(a)+len(b))
	seen := make(map[key]struct{}, len(a)+len(b))
	for _, it := range a {
		out = append(out, it)
		seen[it.key()] = struct{}{}
	}
	for _, it := range b {
		if _, dup := seen[it.key()]; dup {
			continue
		}
		out = append(out, it)
		seen[it.key()] = struct{}{}
	}
	return out
}

func HasCritical(issues []Issue) bool {
	for _, it := range issues {
		if it.IsCritical() {
			return true
		}
	}
	return false
}

func CountCritical(issues []Issue) int {
	n := 0
	for _, it := range issues {
		if it.IsCritical() {
			n++
		}
	}
	return n
}

// CriticalOnly filters issues down to the critical ones.
func CriticalOnly(issues []Issue) []Issue {
	var out []Issue
	for _, it := range issues {
		if it.IsCritical() {
			out = append(out, it)
		}
	}
	return out
}

// Pattern is the frequency of one (rule, severity) class across a set of issues.
type Pattern struct {
	Rule     Rule     `json:"rule"`
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
	Sample   string   `json:"sample"`
}

// Summarize groups issues by (Rule, Severity) and orders the groups by
// descending count. Ties are ordered by rule id for stable prompts.
func Summarize(issues []Issue) []Pattern {
	type pkey struct {
		rule Rule
		sev  Severity
	}
	idx := map[pkey]int{}
	var out []Pattern
	for _, it := range issues {
		k := pkey{it.Rule, it.Severity}
		if i, ok := idx[k]; ok {
			out[i].Count++
			continue
		}
		idx[k] = len(out)
		out = append(out, Pattern{Rule: it.Rule, Severity: it.Severity, Count: 1, Sample: it.Message})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Rule != out[j].Rule {
			return out[i].Rule < out[j].Rule
		}
		return out[i].Severity < out[j].Severity
	})
	return out
}

// Decode converts a loosely typed list (as produced by a model) into issues.
// Entries without a rule are dropped; an unknown or missing severity is
// treated as critical.
func Decode(raw any) []Issue {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []Issue
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rule := strings.TrimSpace(stringOf(m["rule"]))
		if rule == "" {
			continue
		}
		sev := Severity(strings.ToLower(strings.TrimSpace(stringOf(m["severity"]))))
		if sev != Warning {
			sev = Critical
		}
		out = append(out, Issue{
			Severity:  sev,
			Component: stringOf(m["component"]),
			Rule:      Rule(rule),
			Message:   stringOf(m["message"]),
		})
	}
	return out
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
