// Package oracle drives the three language-model roles used by the repair
// loop: reviewer, generator (fix) and meta-improver. Calls are single-shot
// and their text output is parsed best effort; an unparseable answer is a
// normal outcome, reported as "no output" rather than an error.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"flowsmith/internal/flow"
	"flowsmith/internal/issue"
	"flowsmith/internal/llm"
	"flowsmith/internal/prompts"
	"flowsmith/internal/util/jsonutil"
)

// Models selects the model per role. Empty means the client's default.
type Models struct {
	Generator    string
	Reviewer     string
	MetaImprover string
}

type Oracle struct {
	client  llm.LLMClient
	prompts prompts.Store
	models  Models
	logger  *zap.Logger
}

func New(client llm.LLMClient, store prompts.Store, models Models, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{client: client, prompts: store, models: models, logger: logger}
}

// MetaResult carries replacement prompt texts. Empty fields mean "keep".
type MetaResult struct {
	GeneratorPrompt string
	ReviewerPrompt  string
	Changes         []string
}

func (m *MetaResult) Empty() bool {
	return m == nil || (m.GeneratorPrompt == "" && m.ReviewerPrompt == "")
}

func (o *Oracle) call(ctx context.Context, role prompts.Role, model, user string) (string, error) {
	system, err := o.prompts.Get(ctx, role)
	if err != nil {
		return "", fmt.Errorf("oracle: load %s prompt: %w", role, err)
	}
	ctx = llm.WithRole(ctx, string(role))
	return o.client.Generate(ctx, llm.Request{System: system, User: user, Model: model, JSON: true})
}

// Review asks the reviewer for additional findings. A reply without an
// extractable {"errors": [...]} object yields no issues.
func (o *Oracle) Review(ctx context.Context, doc *flow.Document, det []issue.Issue, connectorContext string) ([]issue.Issue, error) {
	out, err := o.call(ctx, prompts.Reviewer, o.models.Reviewer, ReviewPayload(doc, det, connectorContext))
	if err != nil {
		return nil, err
	}
	obj, ok := jsonutil.ExtractObject(out)
	if !ok {
		o.logger.Debug("review produced no JSON object", zap.Int("bytes", len(out)))
		return nil, nil
	}
	return issue.Decode(obj["errors"]), nil
}

// Fix asks the generator for a corrected document. The reply is accepted only
// when it is an object with a "flow" key; otherwise Fix returns nil.
func (o *Oracle) Fix(ctx context.Context, doc *flow.Document, issues []issue.Issue, connectorContext string) (*flow.Document, error) {
	out, err := o.call(ctx, prompts.Generator, o.models.Generator, FixPayload(doc, issues, connectorContext))
	if err != nil {
		return nil, err
	}
	obj, ok := jsonutil.ExtractObject(out)
	if !ok {
		o.logger.Debug("fix produced no JSON object", zap.Int("bytes", len(out)))
		return nil, nil
	}
	if v, has := obj["flow"]; !has || v == nil {
		o.logger.Debug("fix rejected: no flow key")
		return nil, nil
	}
	return flow.FromMap(obj), nil
}

// MetaImprove asks for rewritten generator and reviewer prompts given the
// issues observed over a round of iterations.
func (o *Oracle) MetaImprove(ctx context.Context, roundIssues []issue.Issue, iterations int) (*MetaResult, error) {
	gen, err := o.prompts.Get(ctx, prompts.Generator)
	if err != nil {
		return nil, fmt.Errorf("oracle: load generator prompt: %w", err)
	}
	rev, err := o.prompts.Get(ctx, prompts.Reviewer)
	if err != nil {
		return nil, fmt.Errorf("oracle: load reviewer prompt: %w", err)
	}
	payload := MetaPayload(gen, rev, issue.Summarize(roundIssues), len(roundIssues), iterations)
	out, err := o.call(ctx, prompts.MetaImprover, o.models.MetaImprover, payload)
	if err != nil {
		return nil, err
	}
	obj, ok := jsonutil.ExtractObject(out)
	if !ok {
		o.logger.Debug("meta-improve produced no JSON object", zap.Int("bytes", len(out)))
		return nil, nil
	}
	res := &MetaResult{
		GeneratorPrompt: stringField(obj, "generator_prompt"),
		ReviewerPrompt:  stringField(obj, "reviewer_prompt"),
	}
	if list, ok := obj["changes"].([]any); ok {
		for _, c := range list {
			if s, ok := c.(string); ok && strings.TrimSpace(s) != "" {
				res.Changes = append(res.Changes, s)
			}
		}
	}
	return res, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
