package oracle

import (
	"fmt"
	"strings"

	"flowsmith/internal/flow"
	"flowsmith/internal/issue"
	"flowsmith/internal/util/jsonutil"
)

func docJSON(doc *flow.Document) string {
	if doc == nil {
		return "null"
	}
	return jsonutil.Pretty(doc.Raw())
}

func issuesJSON(issues []issue.Issue) string {
	if issues == nil {
		issues = []issue.Issue{}
	}
	return jsonutil.Pretty(issues)
}

func withContext(b *strings.Builder, connectorContext string) {
	if connectorContext != "" {
		b.WriteString("\n\nComponent schemas:\n")
		b.WriteString(connectorContext)
	}
}

// ReviewPayload is the user message for the reviewer role.
func ReviewPayload(doc *flow.Document, det []issue.Issue, connectorContext string) string {
	var b strings.Builder
	b.WriteString("Review this E2E test flow JSON:\n\n")
	b.WriteString(docJSON(doc))
	withContext(&b, connectorContext)
	if len(det) > 0 {
		b.WriteString("\n\nDeterministic validation found:\n")
		b.WriteString(issuesJSON(det))
	}
	return b.String()
}

// FixPayload is the user message for the generator role.
func FixPayload(doc *flow.Document, issues []issue.Issue, connectorContext string) string {
	var b strings.Builder
	b.WriteString("Fix this E2E test flow. Errors found:\n\n")
	b.WriteString(issuesJSON(issues))
	b.WriteString("\n\nCurrent flow:\n")
	b.WriteString(docJSON(doc))
	withContext(&b, connectorContext)
	b.WriteString("\n\nFix ALL errors. Return ONLY the complete corrected flow JSON.")
	return b.String()
}

// MetaPayload is the user message for the meta-improver role. total is the
// number of issues the patterns were built from.
func MetaPayload(generatorPrompt, reviewerPrompt string, patterns []issue.Pattern, total, iterations int) string {
	var b strings.Builder
	b.WriteString("## Current Generator Prompt\n")
	b.WriteString(generatorPrompt)
	b.WriteString("\n\n## Current Reviewer Prompt\n")
	b.WriteString(reviewerPrompt)
	fmt.Fprintf(&b, "\n\n## Error Summary (%d total across %d iterations)\n", total, iterations)
	lines := make([]string, len(patterns))
	for i, p := range patterns {
		lines[i] = fmt.Sprintf("- **%s** (%s, %dx): %s", p.Rule, p.Severity, p.Count, p.Sample)
	}
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nImprove both prompts to prevent these recurring errors.")
	return b.String()
}
