package issue

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_FirstOccurrenceWins(t *testing.T) {
	det := New(Critical, "assert1", RuleVariableMapping, "deterministic")
	llm := New(Warning, "assert1", RuleVariableMapping, "from review")

	got := Merge([]Issue{det}, []Issue{llm})
	require.Len(t, got, 1)
	assert.Equal(t, det, got[0])
}

func TestMerge_AppendsNewKeysInOrder(t *testing.T) {
	a := []Issue{
		New(Critical, "", RuleFlowName, "name"),
		New(Critical, "c1", RuleSourceMismatch, "src"),
	}
	b := []Issue{
		New(Critical, "c2", RuleSourceMismatch, "other component"),
		New(Critical, "", RuleFlowName, "dup"),
		New(Warning, "c3", Rule("semantic"), "review only"),
		New(Warning, "c3", Rule("semantic"), "review dup"),
	}
	got := Merge(a, b)
	want := []Issue{a[0], a[1], b[0], b[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_KeepsDuplicatesInFirstList(t *testing.T) {
	a := []Issue{
		New(Critical, "p", RuleProcessConfig, "Missing successStoreId"),
		New(Critical, "p", RuleProcessConfig, "Missing failedStoreId"),
	}
	assert.Len(t, Merge(a, nil), 2)
}

func TestCriticalHelpers(t *testing.T) {
	issues := []Issue{
		New(Warning, "a", RuleInputOptional, "w"),
		New(Critical, "b", RuleUnknownField, "c"),
	}
	assert.True(t, HasCritical(issues))
	assert.Equal(t, 1, CountCritical(issues))
	assert.Equal(t, []Issue{issues[1]}, CriticalOnly(issues))
	assert.False(t, HasCritical(issues[:1]))
}

func TestSummarize_OrdersByFrequency(t *testing.T) {
	issues := []Issue{
		New(Critical, "a", RuleSourceMismatch, "first"),
		New(Warning, "a", RuleMeaninglessData, "m"),
		New(Critical, "b", RuleSourceMismatch, "second"),
		New(Critical, "c", RuleSourceMismatch, "third"),
		New(Critical, "", RuleFlowName, "n"),
		New(Critical, "", RuleFlowName, "n2"),
	}
	got := Summarize(issues)
	want := []Pattern{
		{Rule: RuleSourceMismatch, Severity: Critical, Count: 3, Sample: "first"},
		{Rule: RuleFlowName, Severity: Critical, Count: 2, Sample: "n"},
		{Rule: RuleMeaninglessData, Severity: Warning, Count: 1, Sample: "m"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode(t *testing.T) {
	raw := []any{
		map[string]any{"severity": "critical", "component": "c1", "rule": "semantic-order", "message": "bad order"},
		map[string]any{"severity": "WARNING", "component": nil, "rule": "naming", "message": "meh"},
		map[string]any{"severity": "minor", "rule": "other"},
		map[string]any{"message": "no rule"},
		"not an object",
	}
	got := Decode(raw)
	want := []Issue{
		{Severity: Critical, Component: "c1", Rule: "semantic-order", Message: "bad order"},
		{Severity: Warning, Component: "", Rule: "naming", Message: "meh"},
		{Severity: Critical, Component: "", Rule: "other", Message: ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, Decode(map[string]any{}))
}

func TestIssueJSON_EmptyComponentIsNull(t *testing.T) {
	b, err := json.Marshal([]Issue{
		New(Critical, "", RuleFlowName, "Flow name is missing"),
		New(Warning, "send", RuleInputOptional, "x"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[
	  {"severity":"critical","component":null,"rule":"flow-name","message":"Flow name is missing"},
	  {"severity":"warning","component":"send","rule":"input-coverage-optional","message":"x"}
	]`, string(b))

	var back []any
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "", Decode(back)[0].Component)
}
