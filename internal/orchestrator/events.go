package orchestrator

import (
	"time"

	"flowsmith/internal/issue"
)

// State is a step of the repair loop.
type State string

const (
	Validating    State = "validating"
	Reviewing     State = "reviewing"
	Fixing        State = "fixing"
	MetaImproving State = "meta-improving"
	Success       State = "success"
	Exhausted     State = "exhausted"
)

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool { return s == Success || s == Exhausted }

// Event is emitted on every state transition. Issues is set once an
// iteration's merged issue list is known (on Fixing and on terminal states).
type Event struct {
	RunID     string        `json:"runId"`
	State     State         `json:"state"`
	Iteration int           `json:"iteration"`
	MetaRound int           `json:"metaRound"`
	Issues    []issue.Issue `json:"issues,omitempty"`
	Critical  int           `json:"critical"`
	Time      time.Time     `json:"time"`
}

// Observer receives loop events synchronously; implementations must not block.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
