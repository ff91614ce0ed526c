package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/flow/flowtest"
	"flowsmith/internal/issue"
	"flowsmith/internal/llm"
	"flowsmith/internal/prompts"
)

func newOracle(fake *llm.FakeClient) (*Oracle, *prompts.Memory) {
	store := prompts.NewMemory(prompts.Set{Generator: "GEN", Reviewer: "REV", MetaImprover: "META"})
	return New(fake, store, Models{Reviewer: "lite"}, nil), store
}

func TestReview_DecodesErrors(t *testing.T) {
	fake := llm.NewFakeClient().Script(string(prompts.Reviewer),
		"Looks mostly fine.\n```json\n{\"errors\":[{\"severity\":\"warning\",\"component\":\"send\",\"rule\":\"weak-assert\",\"message\":\"m\"},{\"message\":\"no rule\"}]}\n```")
	o, _ := newOracle(fake)

	det := []issue.Issue{issue.New(issue.Critical, "", issue.RuleFlowName, "Flow name is missing")}
	got, err := o.Review(context.Background(), flowtest.ValidDoc(), det, "schemas here")
	require.NoError(t, err)
	want := []issue.Issue{{Severity: issue.Warning, Component: "send", Rule: "weak-assert", Message: "m"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("review issues mismatch (-want +got):\n%s", diff)
	}

	calls := fake.Calls(string(prompts.Reviewer))
	require.Len(t, calls, 1)
	req := calls[0].Request
	assert.Equal(t, "REV", req.System)
	assert.Equal(t, "lite", req.Model)
	assert.True(t, strings.HasPrefix(req.User, "Review this E2E test flow JSON:\n\n{"))
	assert.Contains(t, req.User, "\n\nComponent schemas:\nschemas here")
	assert.Contains(t, req.User, "\n\nDeterministic validation found:\n[")
	assert.Contains(t, req.User, `"component": null`)
}

func TestReview_UnparseableIsNoOutput(t *testing.T) {
	fake := llm.NewFakeClient().Script(string(prompts.Reviewer), "I cannot review this.")
	o, _ := newOracle(fake)
	got, err := o.Review(context.Background(), flowtest.ValidDoc(), nil, "")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotContains(t, fake.Calls("")[0].Request.User, "Deterministic validation found")
	assert.NotContains(t, fake.Calls("")[0].Request.User, "Component schemas")
}

func TestFix_AcceptsOnlyObjectsWithFlow(t *testing.T) {
	fake := llm.NewFakeClient().Script(string(prompts.Generator),
		"not json at all",
		`{"name":"E2E x"}`,
		`["flow"]`,
		"Here you go: "+flowtest.ValidJSON,
	)
	o, _ := newOracle(fake)
	ctx := context.Background()
	doc := flowtest.ValidDoc()

	for i := 0; i < 3; i++ {
		fixed, err := o.Fix(ctx, doc, nil, "")
		require.NoError(t, err)
		assert.Nil(t, fixed, "reply %d", i)
	}
	fixed, err := o.Fix(ctx, doc, nil, "")
	require.NoError(t, err)
	require.NotNil(t, fixed)
	assert.True(t, fixed.HasGraph())
	assert.Equal(t, "E2E Slack send channel message", fixed.Name)

	user := fake.Calls(string(prompts.Generator))[0].Request.User
	assert.True(t, strings.HasPrefix(user, "Fix this E2E test flow. Errors found:\n\n[]\n\nCurrent flow:\n{"))
	assert.True(t, strings.HasSuffix(user, "\n\nFix ALL errors. Return ONLY the complete corrected flow JSON."))
}

func TestFix_TransportErrorPropagates(t *testing.T) {
	fake := llm.NewFakeClient().ScriptReplies(string(prompts.Generator), llm.FakeReply{Err: errors.New("503")})
	o, _ := newOracle(fake)
	_, err := o.Fix(context.Background(), flowtest.ValidDoc(), nil, "")
	assert.EqualError(t, err, "503")
}

func TestMetaImprove(t *testing.T) {
	fake := llm.NewFakeClient().Script(string(prompts.MetaImprover),
		`{"generator_prompt":"GEN v2","reviewer_prompt":"  ","changes":["tighten AND arrays",""]}`)
	o, _ := newOracle(fake)

	round := []issue.Issue{
		issue.New(issue.Critical, "a", issue.RuleVariableMapping, "first"),
		issue.New(issue.Critical, "b", issue.RuleVariableMapping, "second"),
		issue.New(issue.Warning, "a", issue.RuleInputOptional, "opt"),
	}
	res, err := o.MetaImprove(context.Background(), round, 5)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "GEN v2", res.GeneratorPrompt)
	assert.Empty(t, res.ReviewerPrompt)
	assert.Equal(t, []string{"tighten AND arrays"}, res.Changes)
	assert.False(t, res.Empty())

	req := fake.Calls(string(prompts.MetaImprover))[0].Request
	assert.Equal(t, "META", req.System)
	assert.Equal(t, "## Current Generator Prompt\nGEN\n\n## Current Reviewer Prompt\nREV\n\n"+
		"## Error Summary (3 total across 5 iterations)\n"+
		"- **variable-mapping** (critical, 2x): first\n"+
		"- **input-coverage-optional** (warning, 1x): opt\n\n"+
		"Improve both prompts to prevent these recurring errors.", req.User)
}

func TestMetaImprove_NoOutput(t *testing.T) {
	fake := llm.NewFakeClient().Script(string(prompts.MetaImprover), "sorry")
	o, _ := newOracle(fake)
	res, err := o.MetaImprove(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.True(t, res.Empty())
}
