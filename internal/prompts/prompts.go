// Package prompts stores the system instructions of the three oracle roles.
// Texts are treated as versioned configuration: the meta-improve step replaces
// them wholesale and stores keep the previous versions.
package prompts

import (
	"context"
	"embed"
	"errors"
	"fmt"
)

type Role string

const (
	Generator    Role = "generator"
	Reviewer     Role = "reviewer"
	MetaImprover Role = "meta-improver"
)

// Roles lists every role in a stable order.
var Roles = []Role{Generator, Reviewer, MetaImprover}

var ErrUnknownRole = errors.New("prompts: unknown role")

// FileName is the on-disk name of the role's prompt.
func (r Role) FileName() string { return string(r) + "-system.md" }

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts a role name or its file name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if s == string(r) || s == r.FileName() {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Store is read/replace access to the role prompts.
type Store interface {
	Get(ctx context.Context, role Role) (string, error)
	Replace(ctx context.Context, role Role, text string) error
}

// Set is a snapshot of all three prompts.
type Set struct {
	Generator    string `json:"generator"`
	Reviewer     string `json:"reviewer"`
	MetaImprover string `json:"meta_improver"`
}

func (s Set) get(r Role) string {
	switch r {
	case Generator:
		return s.Generator
	case Reviewer:
		return s.Reviewer
	case MetaImprover:
		return s.MetaImprover
	}
	return ""
}

// Load reads a snapshot of every role from st.
func Load(ctx context.Context, st Store) (Set, error) {
	var s Set
	for _, r := range Roles {
		text, err := st.Get(ctx, r)
		if err != nil {
			return Set{}, err
		}
		switch r {
		case Generator:
			s.Generator = text
		case Reviewer:
			s.Reviewer = text
		case MetaImprover:
			s.MetaImprover = text
		}
	}
	return s, nil
}

//go:embed defaults/*.md
var defaultFS embed.FS

// Default returns the built-in prompt for role.
func Default(role Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	b, err := defaultFS.ReadFile("defaults/" + role.FileName())
	if err != nil {
		return "", fmt.Errorf("prompts: read default %s: %w", role, err)
	}
	return string(b), nil
}

// Defaults returns the built-in prompts of every role.
func Defaults() Set {
	var s Set
	s.Generator, _ = Default(Generator)
	s.Reviewer, _ = Default(Reviewer)
	s.MetaImprover, _ = Default(MetaImprover)
	return s
}
