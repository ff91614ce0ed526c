// Package orchestrator runs the bounded validate, review, fix loop over a
// flow document and, between rounds, rewrites the oracle prompts from the
// observed failure frequency.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowsmith/internal/flow"
	"flowsmith/internal/issue"
	"flowsmith/internal/llm"
	"flowsmith/internal/oracle"
	"flowsmith/internal/prompts"
	"flowsmith/internal/rules/coverage"
	"flowsmith/internal/rules/structural"
	"flowsmith/internal/runlog"
	"flowsmith/internal/schema"
	"flowsmith/internal/util/jsonutil"
)

var ErrInvalidOptions = errors.New("orchestrator: invalid options")

const (
	DefaultMaxIterations = 5
	DefaultMaxMetaRounds = 3
)

type (
	IterationRecord = runlog.Record
	RunHistory      = []runlog.Record
)

type Options struct {
	MaxIterations int
	MaxMetaRounds int
	Models        oracle.Models
	// ConnectorContext is appended to review and fix payloads. When empty and
	// DescribeSchemas is set, the input schemas of the flow's components are
	// rendered from the schema provider instead.
	ConnectorContext string
	DescribeSchemas  bool
	VariableScope    structural.VariableScope
}

// Deps are the loop's collaborators. LLM and Prompts are required.
type Deps struct {
	LLM       llm.LLMClient
	Prompts   prompts.Store
	Schemas   schema.Provider
	RunLog    runlog.Sink
	Logger    *zap.Logger
	Observers []Observer
	// NewRunID defaults to a random UUID.
	NewRunID func() string
	Now      func() time.Time
}

type Loop struct {
	deps   Deps
	opts   Options
	oracle *oracle.Oracle
	log    *zap.Logger
}

// Result is the outcome of a run. MetaRounds counts the rounds entered.
type Result struct {
	RunID      string
	State      State
	Document   *flow.Document
	Iterations int
	MetaRounds int
	History    RunHistory
	// Issues is the merged issue list of the last iteration.
	Issues     []issue.Issue
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Result) Success() bool { return r.State == Success }

func New(deps Deps, opts Options) (*Loop, error) {
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxMetaRounds == 0 {
		opts.MaxMetaRounds = DefaultMaxMetaRounds
	}
	if opts.MaxIterations < 1 || opts.MaxMetaRounds < 1 {
		return nil, fmt.Errorf("%w: max iterations and meta rounds must be >= 1 (got %d, %d)",
			ErrInvalidOptions, opts.MaxIterations, opts.MaxMetaRounds)
	}
	if opts.VariableScope == "" {
		opts.VariableScope = structural.ScopeFlow
	}
	if _, err := structural.ParseScope(string(opts.VariableScope)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if deps.LLM == nil || deps.Prompts == nil {
		return nil, fmt.Errorf("%w: an LLM client and a prompt store are required", ErrInvalidOptions)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return uuid.New().String() }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Loop{
		deps:   deps,
		opts:   opts,
		oracle: oracle.New(deps.LLM, deps.Prompts, opts.Models, deps.Logger),
		log:    deps.Logger,
	}, nil
}

// Validate runs the deterministic rule engines once.
func (l *Loop) Validate(ctx context.Context, doc *flow.Document) []issue.Issue {
	det := structural.Check(doc, structural.Options{VariableScope: l.opts.VariableScope})
	if l.deps.Schemas != nil {
		det = append(det, coverage.Check(ctx, doc, l.deps.Schemas)...)
	}
	return det
}

type run struct {
	id        string
	doc       *flow.Document
	total     int
	metaRound int
	history   RunHistory
	last      []issue.Issue
	started   time.Time
}

// Run drives doc to Success or Exhausted. Oracle failures are logged and
// treated as "no output"; only cancellation of ctx aborts the loop early.
func (l *Loop) Run(ctx context.Context, doc *flow.Document) (*Result, error) {
	if doc == nil {
		return nil, errors.New("orchestrator: nil document")
	}
	r := &run{id: l.deps.NewRunID(), doc: doc, started: l.deps.Now(), history: RunHistory{}}
	log := l.log.With(zap.String("run_id", r.id))

	for round := 1; round <= l.opts.MaxMetaRounds; round++ {
		r.metaRound = round
		log.Info("meta round", zap.Int("round", round), zap.Int("of", l.opts.MaxMetaRounds))
		var roundIssues []issue.Issue

		for iter := 1; iter <= l.opts.MaxIterations; iter++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r.total++
			ilog := log.With(zap.Int("iteration", r.total))

			l.emit(r, Validating, nil)
			det := l.Validate(ctx, r.doc)
			ilog.Info("deterministic validation", zap.Int("issues", len(det)), zap.Int("critical", issue.CountCritical(det)))

			connectorContext := l.connectorContext(ctx, r.doc)

			l.emit(r, Reviewing, nil)
			review, err := l.oracle.Review(ctx, r.doc, det, connectorContext)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				ilog.Warn("review call failed, continuing without review", zap.Error(err))
				review = nil
			}

			all := issue.Merge(det, review)
			critical := issue.CountCritical(all)
			r.history = append(r.history, IterationRecord{
				Iteration:           r.total,
				MetaRound:           round,
				DeterministicErrors: nonNil(det),
				LLMErrors:           nonNil(review),
				TotalErrors:         len(all),
				CriticalErrors:      critical,
			})
			r.last = all
			roundIssues = append(roundIssues, all...)

			if critical == 0 {
				ilog.Info("flow passed", zap.Int("warnings", len(all)))
				return l.finish(ctx, r, Success), nil
			}

			l.emit(r, Fixing, all)
			ilog.Info("requesting fix", zap.Int("critical", critical))
			fixed, err := l.oracle.Fix(ctx, r.doc, all, connectorContext)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil, ctx.Err()
			case err != nil:
				ilog.Warn("fix call failed, keeping current flow", zap.Error(err))
			case fixed == nil:
				ilog.Warn("generator produced no usable flow, keeping current flow")
			default:
				r.doc = fixed
			}
		}

		if round < l.opts.MaxMetaRounds {
			if err := l.metaImprove(ctx, r, roundIssues, log); err != nil {
				return nil, err
			}
		}
	}
	log.Warn("flow not repaired", zap.Int("iterations", r.total), zap.Int("meta_rounds", l.opts.MaxMetaRounds))
	return l.finish(ctx, r, Exhausted), nil
}

func (l *Loop) metaImprove(ctx context.Context, r *run, roundIssues []issue.Issue, log *zap.Logger) error {
	l.emit(r, MetaImproving, nil)
	res, err := l.oracle.MetaImprove(ctx, roundIssues, l.opts.MaxIterations)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("meta-improve call failed, keeping prompts", zap.Error(err))
		return nil
	}
	if res.Empty() {
		log.Warn("meta-improver produced no replacement prompts")
		return nil
	}
	for _, p := range []struct {
		role prompts.Role
		text string
	}{
		{prompts.Generator, res.GeneratorPrompt},
		{prompts.Reviewer, res.ReviewerPrompt},
	} {
		if p.text == "" {
			continue
		}
		if err := l.deps.Prompts.Replace(ctx, p.role, p.text); err != nil {
			log.Warn("prompt replace failed", zap.String("role", string(p.role)), zap.Error(err))
			continue
		}
		log.Info("prompt updated", zap.String("role", string(p.role)))
	}
	for _, c := range res.Changes {
		log.Info("prompt change", zap.String("change", c))
	}
	return nil
}

func (l *Loop) connectorContext(ctx context.Context, doc *flow.Document) string {
	if l.opts.ConnectorContext != "" || !l.opts.DescribeSchemas || l.deps.Schemas == nil || !doc.HasGraph() {
		return l.opts.ConnectorContext
	}
	var types []string
	for _, id := range doc.ComponentIDs() {
		c, _ := doc.Lookup(id)
		types = append(types, c.Type)
	}
	text, err := schema.Describe(ctx, l.deps.Schemas, types)
	if err != nil {
		l.log.Warn("describe component schemas", zap.Error(err))
		return ""
	}
	return text
}

func (l *Loop) finish(ctx context.Context, r *run, state State) *Result {
	res := &Result{
		RunID:      r.id,
		State:      state,
		Document:   r.doc,
		Iterations: r.total,
		MetaRounds: r.metaRound,
		History:    r.history,
		Issues:     r.last,
		StartedAt:  r.started,
		FinishedAt: l.deps.Now(),
	}
	l.emit(r, state, r.last)
	if l.deps.RunLog != nil {
		if err := l.deps.RunLog.Save(ctx, res.Entry()); err != nil {
			l.log.Warn("run log save failed", zap.String("run_id", r.id), zap.Error(err))
		}
	}
	return res
}

// Entry converts the result to its run log form.
func (r *Result) Entry() *runlog.Entry {
	e := &runlog.Entry{
		RunID:      r.RunID,
		Success:    r.Success(),
		Iterations: r.Iterations,
		MetaRounds: r.MetaRounds,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		History:    r.History,
	}
	if r.Document != nil {
		e.FlowName = r.Document.Name
		if b, err := jsonutil.MarshalNoEscape(r.Document.Raw()); err == nil {
			if e.Success {
				e.Result = b
			} else {
				e.LastFlow = b
			}
		}
	}
	return e
}

func (l *Loop) emit(r *run, s State, issues []issue.Issue) {
	if len(l.deps.Observers) == 0 {
		return
	}
	ev := Event{
		RunID:     r.id,
		State:     s,
		Iteration: r.total,
		MetaRound: r.metaRound,
		Issues:    issues,
		Critical:  issue.CountCritical(issues),
		Time:      l.deps.Now(),
	}
	for _, o := range l.deps.Observers {
		o.Observe(ev)
	}
}

func nonNil(issues []issue.Issue) []issue.Issue {
	if issues == nil {
		return []issue.Issue{}
	}
	return issues
}
