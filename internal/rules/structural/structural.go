// Package structural holds the deterministic graph checks run against every
// flow: naming, required components, connection topology and variable
// bindings. Checks never fail; malformed sub-structures become issues.
package structural

import (
	"fmt"
	"strings"

	"flowsmith/internal/flow"
	"flowsmith/internal/issue"
	"flowsmith/internal/util/jsonutil"
)

// VariableScope decides which components a modifier variable may reference.
type VariableScope string

const (
	// ScopeUpstream accepts references to the component itself or a member of its upstream set.
	ScopeUpstream VariableScope = "upstream"
	// ScopeFlow accepts references to the component itself or any component in the flow.
	ScopeFlow VariableScope = "flow"
)

// ParseScope maps a configuration string to a scope. Empty means ScopeFlow.
func ParseScope(s string) (VariableScope, error) {
	switch VariableScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeFlow:
		return ScopeFlow, nil
	case ScopeUpstream:
		return ScopeUpstream, nil
	default:
		return "", fmt.Errorf("structural: unknown variable scope %q (want %q or %q)", s, ScopeUpstream, ScopeFlow)
	}
}

type Options struct {
	VariableScope VariableScope
}

type graphCheck struct {
	rule issue.Rule
	fn   func(doc *flow.Document, opts Options) []issue.Issue
}

// graphChecks run once the document is known to have a graph.
var graphChecks = []graphCheck{
	{issue.RuleRequiredComponent, checkRequiredComponents},
	{issue.RuleAfterAllConnection, checkAfterAllConnections},
	{issue.RuleProcessResult, checkProcessResults},
	{issue.RuleSourceMismatch, perComponent(checkSourceMismatch)},
	{issue.RuleVariableMapping, perBinding(checkVariableMapping)},
	{issue.RuleVariablePath, perBinding(checkVariablePaths)},
}

// Rules lists the rule ids this package can emit.
func Rules() []issue.Rule {
	out := []issue.Rule{issue.RuleFlowName, issue.RuleFlowStructure}
	for _, c := range graphChecks {
		out = append(out, c.rule)
	}
	return append(out, issue.RuleProcessConfig)
}

// Check runs every structural rule. The result order is not part of the contract.
func Check(doc *flow.Document, opts Options) []issue.Issue {
	if opts.VariableScope == "" {
		opts.VariableScope = ScopeFlow
	}
	out := checkFlowName(doc)
	if !doc.HasGraph() {
		return append(out, issue.New(issue.Critical, "", issue.RuleFlowStructure, `Missing "flow" property`))
	}
	for _, c := range graphChecks {
		out = append(out, c.fn(doc, opts)...)
	}
	return out
}

func checkFlowName(doc *flow.Document) []issue.Issue {
	if !doc.HasName {
		return []issue.Issue{issue.New(issue.Critical, "", issue.RuleFlowName, "Flow name is missing")}
	}
	if !strings.HasPrefix(doc.Name, flow.NamePrefix) {
		return []issue.Issue{issue.New(issue.Critical, "", issue.RuleFlowName,
			"Flow name must start with %q. Got: %q", flow.NamePrefix, doc.Name)}
	}
	return nil
}

var requiredTypes = []struct {
	typ  string
	name string
}{
	{flow.TypeOnStart, "OnStart"},
	{flow.TypeAfterAll, "AfterAll"},
	{flow.TypeProcessResults, "ProcessE2EResults"},
}

func checkRequiredComponents(doc *flow.Document, _ Options) []issue.Issue {
	var out []issue.Issue
	for _, rt := range requiredTypes {
		if len(doc.ComponentsOfType(rt.typ)) == 0 {
			out = append(out, issue.New(issue.Critical, "", issue.RuleRequiredComponent, "Missing %s component", rt.name))
		}
	}
	return out
}

func checkAfterAllConnections(doc *flow.Document, _ Options) []issue.Issue {
	afterAll, ok := doc.FirstOfType(flow.TypeAfterAll)
	if !ok {
		return nil
	}
	var out []issue.Issue
	for _, a := range doc.ComponentsOfType(flow.TypeAssert) {
		if !afterAll.HasUpstream(a.ID) {
			out = append(out, issue.New(issue.Critical, a.ID, issue.RuleAfterAllConnection,
				"Assert %q is NOT connected to AfterAll's source.in", a.ID))
		}
	}
	return out
}

func perComponent(fn func(c *flow.Component) []issue.Issue) func(*flow.Document, Options) []issue.Issue {
	return func(doc *flow.Document, _ Options) []issue.Issue {
		var out []issue.Issue
		for _, id := range doc.ComponentIDs() {
			out = append(out, fn(doc.Components[id])...)
		}
		return out
	}
}

func perBinding(fn func(doc *flow.Document, c *flow.Component, b *flow.Binding, opts Options) []issue.Issue) func(*flow.Document, Options) []issue.Issue {
	return func(doc *flow.Document, opts Options) []issue.Issue {
		var out []issue.Issue
		for _, id := range doc.ComponentIDs() {
			c := doc.Components[id]
			for _, src := range c.BindingSources() {
				out = append(out, fn(doc, c, c.Bindings[src], opts)...)
			}
		}
		return out
	}
}

func checkSourceMismatch(c *flow.Component) []issue.Issue {
	var out []issue.Issue
	for _, src := range c.BindingSources() {
		if !c.HasUpstream(src) {
			out = append(out, issue.New(issue.Critical, c.ID, issue.RuleSourceMismatch,
				"Transform references %q but it's not in source.in [%s]", src, strings.Join(c.UpstreamIDs(), ", ")))
		}
	}
	return out
}

func checkVariableMapping(_ *flow.Document, c *flow.Component, b *flow.Binding, _ Options) []issue.Issue {
	if !b.HasModifiers || !b.HasTemplates {
		return nil
	}
	var out []issue.Issue
	for _, field := range b.ModifierFields() {
		vars := b.Modifiers[field]
		if len(vars) == 0 {
			continue
		}
		varIDs := flow.VarIDs(vars)
		tmpl, has := b.Templates[field]
		s, isString := tmpl.(string)

		if field == "expression" && has && objectLike(tmpl) {
			expr, _ := tmpl.(map[string]any)
			serialized := serializeAnd(expr)
			for _, v := range varIDs {
				if !strings.Contains(serialized, flow.Token(v)) {
					out = append(out, issue.New(issue.Critical, c.ID, issue.RuleVariableMapping,
						"Modifier %q in expression not referenced in lambda AND array", v))
				}
			}
			continue
		}

		switch {
		case !has || (isString && s == ""):
			out = append(out, issue.New(issue.Critical, c.ID, issue.RuleVariableMapping,
				"Lambda for %q is empty but modifier defines: %s", field, strings.Join(varIDs, ", ")))
		case isString:
			for _, v := range varIDs {
				if !strings.Contains(s, flow.Token(v)) {
					out = append(out, issue.New(issue.Critical, c.ID, issue.RuleVariableMapping,
						"Modifier %q for %q not referenced in lambda. Lambda: %q", v, field, s))
				}
			}
		}
	}
	return out
}

// objectLike reports whether v is null, an array or an object.
func objectLike(v any) bool {
	switch v.(type) {
	case nil, []any, map[string]any:
		return true
	}
	return false
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	default:
		return true
	}
}

// serializeAnd renders the AND array of an assert expression for token
// lookup. A missing AND array, or a template that is not an object,
// serializes as an empty list.
func serializeAnd(expr map[string]any) string {
	and, ok := expr["AND"]
	if !ok || and == nil {
		return "[]"
	}
	b, err := jsonutil.MarshalNoEscape(and)
	if err != nil {
		return ""
	}
	return string(b)
}

func checkVariablePaths(doc *flow.Document, c *flow.Component, b *flow.Binding, opts Options) []issue.Issue {
	if !b.HasModifiers {
		return nil
	}
	var out []issue.Issue
	flow.WalkVariables(b.RawModifiers(), func(path string) {
		ref, ok := flow.ParseVariableRef(path)
		if !ok || ref.Component == c.ID {
			return
		}
		switch opts.VariableScope {
		case ScopeUpstream:
			if !c.HasUpstream(ref.Component) {
				out = append(out, issue.New(issue.Critical, c.ID, issue.RuleVariablePath,
					"Variable %q references %q not in source.in", path, ref.Component))
			}
		default:
			if _, exists := doc.Lookup(ref.Component); !exists {
				out = append(out, issue.New(issue.Critical, c.ID, issue.RuleVariablePath,
					"Variable %q references %q which doesn't exist in the flow", path, ref.Component))
			}
		}
	})
	return out
}

func checkProcessResults(doc *flow.Document, _ Options) []issue.Issue {
	proc, ok := doc.FirstOfType(flow.TypeProcessResults)
	if !ok {
		return nil
	}
	var out []issue.Issue
	for _, prop := range []string{"successStoreId", "failedStoreId"} {
		if !present(proc.Properties[prop]) {
			out = append(out, issue.New(issue.Critical, proc.ID, issue.RuleProcessConfig, "Missing %s", prop))
		}
	}
	for _, src := range proc.BindingSources() {
		b := proc.Bindings[src]
		vars := b.Modifiers["result"]
		if len(vars) != 1 {
			continue
		}
		varID := flow.VarIDs(vars)[0]
		tmpl, _ := b.Templates["result"].(string)
		if !strings.Contains(tmpl, flow.Token(varID)) {
			out = append(out, issue.New(issue.Critical, proc.ID, issue.RuleProcessResult,
				"ProcessE2EResults result should be %q but got %q", flow.Token(varID), tmpl))
		}
	}
	return out
}
