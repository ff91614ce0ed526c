package llm

import (
	"context"
	"sync"
)

// FakeReply is one scripted answer. Err takes precedence over Text.
type FakeReply struct {
	Text string
	Err  error
}

// FakeClient returns scripted replies per role for offline runs and tests.
// Each role's replies are consumed in order; the last one repeats once the
// script runs out. Roles without a script answer "{}".
type FakeClient struct {
	mu      sync.Mutex
	scripts map[string][]FakeReply
	calls   []FakeCall
}

// FakeCall records a request seen by the fake.
type FakeCall struct {
	Role    string
	Request Request
}

func NewFakeClient() *FakeClient {
	return &FakeClient{scripts: map[string][]FakeReply{}}
}

// Script appends text replies for role.
func (f *FakeClient) Script(role string, texts ...string) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		f.scripts[role] = append(f.scripts[role], FakeReply{Text: t})
	}
	return f
}

// ScriptReplies appends replies (text or error) for role.
func (f *FakeClient) ScriptReplies(role string, replies ...FakeReply) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[role] = append(f.scripts[role], replies...)
	return f
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	role := RoleFrom(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Role: role, Request: req})
	script := f.scripts[role]
	if len(script) == 0 {
		return "{}", nil
	}
	r := script[0]
	if len(script) > 1 {
		f.scripts[role] = script[1:]
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// Calls returns a copy of the recorded requests, optionally filtered by role.
func (f *FakeClient) Calls(role string) []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FakeCall
	for _, c := range f.calls {
		if role == "" || c.Role == role {
			out = append(out, c)
		}
	}
	return out
}
