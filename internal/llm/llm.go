package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("llm: empty response from model")

// Request is a single-shot call: one system instruction, one user payload.
type Request struct {
	System string
	User   string
	// Model overrides the client's default model when non-empty.
	Model string
	// JSON asks the backend for an application/json response.
	JSON bool
}

type LLMClient interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// ---- Role tag via context

type roleKey struct{}

// WithRole tags ctx with the oracle role issuing the call (reviewer, generator, ...).
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFrom returns the role stored in the context, or "unknown".
func RoleFrom(ctx context.Context) string {
	if s, ok := ctx.Value(roleKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}
