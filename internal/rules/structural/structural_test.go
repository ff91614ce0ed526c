package structural

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/flow"
	"flowsmith/internal/flow/flowtest"
	"flowsmith/internal/issue"
)

func check(m map[string]any, opts Options) []issue.Issue {
	return Check(flow.FromMap(m), opts)
}

func byRule(issues []issue.Issue, rule issue.Rule) []issue.Issue {
	var out []issue.Issue
	for _, it := range issues {
		if it.Rule == rule {
			out = append(out, it)
		}
	}
	return out
}

func TestCheck_ValidFlowHasNoIssues(t *testing.T) {
	for _, scope := range []VariableScope{ScopeFlow, ScopeUpstream} {
		assert.Empty(t, Check(flowtest.ValidDoc(), Options{VariableScope: scope}), scope)
	}
}

func TestCheck_MissingGraphShortCircuits(t *testing.T) {
	got := check(map[string]any{"name": "E2E no graph"}, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, issue.RuleFlowStructure, got[0].Rule)
	assert.Equal(t, issue.Critical, got[0].Severity)

	// A non-object graph counts as missing.
	got = check(map[string]any{"name": "E2E bad", "flow": []any{}}, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, issue.RuleFlowStructure, got[0].Rule)
}

func TestCheck_FlowName(t *testing.T) {
	m := flowtest.Valid()
	delete(m, "name")
	got := byRule(check(m, Options{}), issue.RuleFlowName)
	require.Len(t, got, 1)
	assert.Equal(t, "Flow name is missing", got[0].Message)

	m = flowtest.Valid()
	m["name"] = "Slack send message"
	got = byRule(check(m, Options{}), issue.RuleFlowName)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, `"Slack send message"`)

	m = flowtest.Valid()
	m["name"] = "E2Esend"
	assert.Len(t, byRule(check(m, Options{}), issue.RuleFlowName), 1)
}

func TestCheck_RequiredComponents(t *testing.T) {
	m := flowtest.Valid()
	graph := m["flow"].(map[string]any)
	delete(graph, "start")
	delete(graph, "process")

	got := byRule(check(m, Options{}), issue.RuleRequiredComponent)
	require.Len(t, got, 2)
	msgs := []string{got[0].Message, got[1].Message}
	assert.ElementsMatch(t, []string{"Missing OnStart component", "Missing ProcessE2EResults component"}, msgs)

	empty := check(map[string]any{"name": "E2E empty", "flow": map[string]any{}}, Options{})
	assert.Len(t, byRule(empty, issue.RuleRequiredComponent), 3)
	assert.Empty(t, byRule(empty, issue.RuleFlowStructure))
}

func TestCheck_AfterAllConnection(t *testing.T) {
	m := flowtest.Valid()
	graph := m["flow"].(map[string]any)
	graph["assert2"] = map[string]any{
		"type":   flow.TypeAssert,
		"source": map[string]any{"in": map[string]any{"send": []any{"out"}}},
	}

	got := byRule(check(m, Options{}), issue.RuleAfterAllConnection)
	require.Len(t, got, 1)
	assert.Equal(t, "assert2", got[0].Component)
	assert.Contains(t, got[0].Message, "assert2")

	flowtest.SourceIn(m, "afterAll")["assert2"] = []any{"out"}
	assert.Empty(t, byRule(check(m, Options{}), issue.RuleAfterAllConnection))
}

func TestCheck_AfterAllSkippedWithoutAfterAll(t *testing.T) {
	m := flowtest.Valid()
	graph := m["flow"].(map[string]any)
	delete(graph, "afterAll")
	got := check(m, Options{})
	assert.Empty(t, byRule(got, issue.RuleAfterAllConnection))
	assert.Len(t, byRule(got, issue.RuleRequiredComponent), 1)
}

func TestCheck_SourceMismatch(t *testing.T) {
	m := flowtest.Valid()
	send := flowtest.Component(m, "send")
	in := send["config"].(map[string]any)["transform"].(map[string]any)["in"].(map[string]any)
	in["ghost"] = map[string]any{"out": map[string]any{}}

	got := byRule(check(m, Options{}), issue.RuleSourceMismatch)
	require.Len(t, got, 1)
	assert.Equal(t, "send", got[0].Component)
	assert.Contains(t, got[0].Message, `"ghost"`)
	assert.Contains(t, got[0].Message, "[start]")
}

func TestCheck_VariableMappingExpression(t *testing.T) {
	m := flowtest.Valid()
	out := flowtest.Out(m, "assert", "send")
	out["modifiers"].(map[string]any)["expression"] = map[string]any{
		"v1": map[string]any{"variable": "$.send.out.ts"},
	}
	// The AND array still only references v2.
	out["lambda"].(map[string]any)["expression"] = map[string]any{
		"AND": []any{map[string]any{"field": "{{{v2}}}", "assertion": "notEmpty"}},
	}

	got := byRule(check(m, Options{}), issue.RuleVariableMapping)
	require.Len(t, got, 1)
	assert.Equal(t, "assert", got[0].Component)
	assert.Equal(t, issue.Critical, got[0].Severity)
	assert.Contains(t, got[0].Message, `"v1"`)
}

func TestCheck_VariableMappingExpressionWithoutAnd(t *testing.T) {
	m := flowtest.Valid()
	out := flowtest.Out(m, "assert", "send")
	out["lambda"].(map[string]any)["expression"] = map[string]any{"OR": []any{"{{{v2}}}"}}

	got := byRule(check(m, Options{}), issue.RuleVariableMapping)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, `"v2"`)
}

func TestCheck_VariableMappingExpressionNotAnObject(t *testing.T) {
	for name, tmpl := range map[string]any{
		"null":  nil,
		"array": []any{},
	} {
		t.Run(name, func(t *testing.T) {
			m := flowtest.Valid()
			flowtest.Out(m, "assert", "send")["lambda"].(map[string]any)["expression"] = tmpl

			got := byRule(check(m, Options{}), issue.RuleVariableMapping)
			require.Len(t, got, 1)
			assert.Equal(t, "assert", got[0].Component)
			assert.Contains(t, got[0].Message, `"v2" in expression not referenced in lambda AND array`)
		})
	}
}

func TestCheck_VariableMappingStringTemplate(t *testing.T) {
	m := flowtest.Valid()
	out := flowtest.Out(m, "send", "start")
	out["lambda"].(map[string]any)["text"] = "Run started"

	got := byRule(check(m, Options{}), issue.RuleVariableMapping)
	require.Len(t, got, 1)
	assert.Equal(t, "send", got[0].Component)
	assert.Contains(t, got[0].Message, `Lambda: "Run started"`)
}

func TestCheck_VariableMappingEmptyTemplate(t *testing.T) {
	for name, mutate := range map[string]func(lambda map[string]any){
		"empty string": func(l map[string]any) { l["text"] = "" },
		"missing":      func(l map[string]any) { delete(l, "text") },
	} {
		t.Run(name, func(t *testing.T) {
			m := flowtest.Valid()
			mutate(flowtest.Out(m, "send", "start")["lambda"].(map[string]any))
			got := byRule(check(m, Options{}), issue.RuleVariableMapping)
			require.Len(t, got, 1)
			assert.Contains(t, got[0].Message, "is empty but modifier defines: v1")
		})
	}
}

func TestCheck_VariableMappingSkipsWithoutLambda(t *testing.T) {
	m := flowtest.Valid()
	delete(flowtest.Out(m, "send", "start"), "lambda")
	assert.Empty(t, byRule(check(m, Options{}), issue.RuleVariableMapping))

	m = flowtest.Valid()
	flowtest.Out(m, "send", "start")["modifiers"].(map[string]any)["text"] = map[string]any{}
	flowtest.Out(m, "send", "start")["lambda"].(map[string]any)["text"] = ""
	assert.Empty(t, byRule(check(m, Options{}), issue.RuleVariableMapping))
}

func TestCheck_VariablePathScopes(t *testing.T) {
	build := func(variable string) map[string]any {
		m := flowtest.Valid()
		flowtest.Out(m, "assert", "send")["modifiers"].(map[string]any)["expression"] = map[string]any{
			"v2": map[string]any{"variable": variable, "functions": []any{}},
		}
		return m
	}

	// start exists but is not upstream of assert.
	nonUpstream := build("$.start.out.started")
	assert.Empty(t, byRule(check(nonUpstream, Options{VariableScope: ScopeFlow}), issue.RuleVariablePath))
	got := byRule(check(nonUpstream, Options{VariableScope: ScopeUpstream}), issue.RuleVariablePath)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "not in source.in")

	missing := build("$.nowhere.out.x")
	for _, scope := range []VariableScope{ScopeFlow, ScopeUpstream} {
		got := byRule(check(missing, Options{VariableScope: scope}), issue.RuleVariablePath)
		require.Len(t, got, 1, scope)
		assert.Equal(t, "assert", got[0].Component)
	}

	self := build("$.assert.out.previous")
	assert.Empty(t, byRule(check(self, Options{VariableScope: ScopeUpstream}), issue.RuleVariablePath))
}

func TestCheck_VariablePathNested(t *testing.T) {
	m := flowtest.Valid()
	flowtest.Out(m, "send", "start")["modifiers"].(map[string]any)["text"] = map[string]any{
		"v1": map[string]any{
			"variable":  "$.start.out.started",
			"functions": []any{map[string]any{"params": map[string]any{"variable": "$.ghost.out.x"}}},
		},
	}
	got := byRule(check(m, Options{}), issue.RuleVariablePath)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "ghost")
}

func TestCheck_ProcessResults(t *testing.T) {
	m := flowtest.Valid()
	proc := flowtest.Component(m, "process")
	proc["config"].(map[string]any)["properties"] = map[string]any{"successStoreId": ""}
	flowtest.Out(m, "process", "afterAll")["lambda"].(map[string]any)["result"] = "{{{other}}}"

	got := check(m, Options{})
	cfg := byRule(got, issue.RuleProcessConfig)
	require.Len(t, cfg, 2)
	assert.Equal(t, "process", cfg[0].Component)

	res := byRule(got, issue.RuleProcessResult)
	require.Len(t, res, 1)
	assert.Contains(t, res[0].Message, `"{{{r1}}}"`)
}

func TestCheck_ProcessResultOnlyWithSingleVariable(t *testing.T) {
	m := flowtest.Valid()
	flowtest.Out(m, "process", "afterAll")["modifiers"].(map[string]any)["result"] = map[string]any{
		"r1": map[string]any{"variable": "$.afterAll.out.result"},
		"r2": map[string]any{"variable": "$.afterAll.out.other"},
	}
	flowtest.Out(m, "process", "afterAll")["lambda"].(map[string]any)["result"] = "{{{r1}}} {{{r2}}}"
	assert.Empty(t, byRule(check(m, Options{}), issue.RuleProcessResult))
}

func TestCheck_Idempotent(t *testing.T) {
	m := flowtest.Valid()
	m["name"] = "broken"
	delete(m["flow"].(map[string]any), "start")
	flowtest.Out(m, "send", "start")["lambda"].(map[string]any)["text"] = "nothing"
	doc := flow.FromMap(m)

	first := Check(doc, Options{VariableScope: ScopeUpstream})
	second := Check(doc, Options{VariableScope: ScopeUpstream})
	require.NotEmpty(t, first)
	assert.ElementsMatch(t, first, second)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeFlow, s)

	s, err = ParseScope(" Upstream ")
	require.NoError(t, err)
	assert.Equal(t, ScopeUpstream, s)

	_, err = ParseScope("global")
	assert.Error(t, err)
}

func TestRules(t *testing.T) {
	rules := Rules()
	assert.Contains(t, rules, issue.RuleFlowName)
	assert.Contains(t, rules, issue.RuleFlowStructure)
	assert.Contains(t, rules, issue.RuleVariablePath)
}
