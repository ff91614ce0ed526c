package prompts

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store. Replaced texts are kept in History.
type Memory struct {
	mu      sync.RWMutex
	texts   map[Role]string
	history map[Role][]string
}

// NewMemory seeds a store from initial; empty fields fall back to the
// built-in defaults.
func NewMemory(initial Set) *Memory {
	m := &Memory{texts: map[Role]string{}, history: map[Role][]string{}}
	def := Defaults()
	for _, r := range Roles {
		text := initial.get(r)
		if text == "" {
			text = def.get(r)
		}
		m.texts[r] = text
	}
	return m
}

func (m *Memory) Get(_ context.Context, role Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.texts[role], nil
}

func (m *Memory) Replace(_ context.Context, role Role, text string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[role] = append(m.history[role], m.texts[role])
	m.texts[role] = text
	return nil
}

// History returns the texts replaced so far for role, oldest first.
func (m *Memory) History(role Role) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.history[role]...)
}
