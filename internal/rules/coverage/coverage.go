// Package coverage checks the fields a flow populates against the input
// schemas of its connector components.
package coverage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"flowsmith/internal/flow"
	"flowsmith/internal/issue"
	"flowsmith/internal/schema"
)

// Utility components have no connector schema to cover.
var utilityPrefixes = []string{
	"appmixer.utils.controls.",
	"appmixer.utils.test.",
}

// genericValues are literals that carry no test signal. Compared lowercased
// after trimming.
var genericValues = map[string]struct{}{
	"": {}, "test": {}, "string": {}, "value": {}, "example": {},
	"foo": {}, "bar": {}, "baz": {}, "undefined": {}, "null": {},
	"none": {}, "n/a": {}, "todo": {}, "placeholder": {}, "xxx": {},
	"abc": {}, "123": {},
}

var integerRe = regexp.MustCompile(`^-?\d+$`)

// Rules lists the rule ids this package can emit.
func Rules() []issue.Rule {
	return []issue.Rule{
		issue.RuleInputRequired,
		issue.RuleInputOptional,
		issue.RuleUnknownField,
		issue.RuleMeaninglessData,
		issue.RuleInvalidEnum,
		issue.RuleTypeMismatch,
	}
}

// Check runs the coverage rules for every connector component of doc. A nil
// provider or a document without a graph yields no issues. Components whose
// schema cannot be resolved are skipped.
func Check(ctx context.Context, doc *flow.Document, p schema.Provider) []issue.Issue {
	if p == nil || !doc.HasGraph() {
		return nil
	}
	var out []issue.Issue
	for _, id := range doc.ComponentIDs() {
		c, _ := doc.Lookup(id)
		if !checked(c.Type) {
			continue
		}
		s, ok, err := p.Lookup(ctx, c.Type)
		if err != nil || !ok || s == nil || len(s.Properties) == 0 {
			continue
		}
		out = append(out, checkComponent(c, s)...)
	}
	return out
}

func checked(typ string) bool {
	for _, p := range utilityPrefixes {
		if strings.HasPrefix(typ, p) {
			return false
		}
	}
	return strings.HasPrefix(typ, schema.Platform)
}

func checkComponent(c *flow.Component, s *schema.Schema) []issue.Issue {
	used := c.PopulatedFields()
	names := s.FieldNames()
	var out []issue.Issue

	for _, f := range s.Required {
		if _, ok := used[f]; !ok {
			out = append(out, issue.New(issue.Critical, c.ID, issue.RuleInputRequired,
				"Required field %q is not provided (schema: %s)", f, c.Type))
		}
	}

	var missing []string
	for _, f := range names {
		if _, ok := used[f]; !ok && !s.IsRequired(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		out = append(out, issue.New(issue.Warning, c.ID, issue.RuleInputOptional,
			"Optional fields not tested: [%s] (%d/%d missing)", strings.Join(missing, ", "), len(missing), len(names)))
	}

	for _, f := range sortedKeys(used) {
		if _, ok := s.Properties[f]; !ok {
			out = append(out, issue.New(issue.Critical, c.ID, issue.RuleUnknownField,
				"Field %q is not defined in component schema. Available: [%s]", f, strings.Join(names, ", ")))
		}
	}

	for _, src := range c.BindingSources() {
		out = append(out, checkLiterals(c.ID, c.Bindings[src], s)...)
	}
	return out
}

// checkLiterals inspects template values that are plain strings without
// interpolation.
func checkLiterals(compID string, b *flow.Binding, s *schema.Schema) []issue.Issue {
	var out []issue.Issue
	for _, field := range sortedKeys(b.Templates) {
		value, ok := b.Templates[field].(string)
		if !ok || strings.Contains(value, "{{{") {
			continue
		}
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if _, generic := genericValues[trimmed]; generic {
			out = append(out, issue.New(issue.Warning, compID, issue.RuleMeaninglessData,
				"Field %q has generic/empty value %q. Use realistic test data.", field, value))
		}
		prop, known := s.Properties[field]
		if !known {
			continue
		}
		if len(prop.Enum) > 0 && !inEnum(prop.Enum, value) {
			out = append(out, issue.New(issue.Critical, compID, issue.RuleInvalidEnum,
				"Field %q value %q not in enum: [%s]", field, value, joinAny(prop.Enum)))
		}
		switch prop.Type {
		case "integer":
			if !integerRe.MatchString(value) {
				out = append(out, issue.New(issue.Warning, compID, issue.RuleTypeMismatch,
					"Field %q expects integer but got %q", field, value))
			}
		case "boolean":
			if trimmed != "true" && trimmed != "false" {
				out = append(out, issue.New(issue.Warning, compID, issue.RuleTypeMismatch,
					"Field %q expects boolean but got %q", field, value))
			}
		}
	}
	return out
}

// inEnum compares strictly: only string enum members can match a string literal.
func inEnum(enum []any, value string) bool {
	for _, e := range enum {
		if s, ok := e.(string); ok && s == value {
			return true
		}
	}
	return false
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
