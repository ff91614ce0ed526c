// Package runlog persists the outcome of a repair run: the per-iteration
// history and the final flow. Sinks are write-once per terminal run.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"flowsmith/internal/issue"
)

var ErrNotFound = errors.New("runlog: run not found")

// Record is the immutable snapshot of one loop iteration.
type Record struct {
	Iteration           int           `json:"iteration"`
	MetaRound           int           `json:"metaRound"`
	DeterministicErrors []issue.Issue `json:"deterministicErrors"`
	LLMErrors           []issue.Issue `json:"llmErrors"`
	TotalErrors         int           `json:"totalErrors"`
	CriticalErrors      int           `json:"criticalErrors"`
}

// Entry is one terminal run. Result is set on success, LastFlow on exhaustion.
type Entry struct {
	RunID      string          `json:"runId"`
	FlowName   string          `json:"flowName,omitempty"`
	Success    bool            `json:"success"`
	Iterations int             `json:"iterations"`
	MetaRounds int             `json:"metaRounds"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	History    []Record        `json:"history"`
	Result     json.RawMessage `json:"result,omitempty"`
	LastFlow   json.RawMessage `json:"lastFlow,omitempty"`
}

// FinalFlow returns whichever of Result or LastFlow is set.
func (e *Entry) FinalFlow() json.RawMessage {
	if len(e.Result) > 0 {
		return e.Result
	}
	return e.LastFlow
}

// LastCritical is the critical count of the final iteration.
func (e *Entry) LastCritical() int {
	if len(e.History) == 0 {
		return 0
	}
	return e.History[len(e.History)-1].CriticalErrors
}

// Sink stores terminal runs.
type Sink interface {
	Save(ctx context.Context, e *Entry) error
}

// Reader is implemented by sinks that can load runs back.
type Reader interface {
	Get(ctx context.Context, runID string) (*Entry, error)
	List(ctx context.Context, limit int) ([]Summary, error)
}

// Summary is a list row of a stored run.
type Summary struct {
	RunID          string    `json:"runId"`
	FlowName       string    `json:"flowName"`
	Success        bool      `json:"success"`
	Iterations     int       `json:"iterations"`
	MetaRounds     int       `json:"metaRounds"`
	CriticalErrors int       `json:"criticalErrors"`
	FinishedAt     time.Time `json:"finishedAt"`
}

func summarize(e *Entry) Summary {
	return Summary{
		RunID:          e.RunID,
		FlowName:       e.FlowName,
		Success:        e.Success,
		Iterations:     e.Iterations,
		MetaRounds:     e.MetaRounds,
		CriticalErrors: e.LastCritical(),
		FinishedAt:     e.FinishedAt,
	}
}

// Multi fans a Save out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Save(ctx context.Context, e *Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
