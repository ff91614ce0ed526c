// Package schema resolves Appmixer component types to the field schema of
// their input port.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Property is the subset of a JSON-schema property the coverage rules use.
type Property struct {
	Type string `json:"type,omitempty"`
	Enum []any  `json:"enum,omitempty"`
}

// Schema is the input schema of one component type.
type Schema struct {
	Type       string              `json:"-"`
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Provider resolves a component type to its schema. ok is false for types
// the provider does not know; callers skip those rather than fail.
type Provider interface {
	Lookup(ctx context.Context, componentType string) (s *Schema, ok bool, err error)
}

// FieldNames returns the schema's property names in sorted order.
func (s *Schema) FieldNames() []string {
	out := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Schema) IsRequired(field string) bool {
	for _, r := range s.Required {
		if r == field {
			return true
		}
	}
	return false
}

// componentFile is the part of component.json that carries the input schema.
type componentFile struct {
	InPorts []struct {
		Schema struct {
			Properties map[string]Property `json:"properties"`
			Required   []string            `json:"required"`
		} `json:"schema"`
	} `json:"inPorts"`
}

// ParseComponent extracts inPorts[0].schema from a component.json document.
// Components without input ports yield an empty schema.
func ParseComponent(componentType string, raw []byte) (*Schema, error) {
	var cf componentFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", componentType, err)
	}
	s := &Schema{Type: componentType, Properties: map[string]Property{}}
	if len(cf.InPorts) == 0 {
		return s, nil
	}
	in := cf.InPorts[0].Schema
	if in.Properties != nil {
		s.Properties = in.Properties
	}
	s.Required = in.Required
	return s, nil
}

// Static is an in-memory provider keyed by component type.
type Static map[string]*Schema

func (p Static) Lookup(_ context.Context, componentType string) (*Schema, bool, error) {
	s, ok := p[componentType]
	return s, ok, nil
}

// Describe renders the input schemas of every component type used by the
// given types, for inclusion in oracle payloads. Unknown types are skipped.
func Describe(ctx context.Context, p Provider, types []string) (string, error) {
	if p == nil {
		return "", nil
	}
	seen := map[string]struct{}{}
	var b strings.Builder
	sorted := append([]string(nil), types...)
	sort.Strings(sorted)
	for _, t := range sorted {
		if _, dup := seen[t]; dup || t == "" {
			continue
		}
		seen[t] = struct{}{}
		s, ok, err := p.Lookup(ctx, t)
		if err != nil {
			return "", err
		}
		if !ok || len(s.Properties) == 0 {
			continue
		}
		body, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", t, body)
	}
	return strings.TrimSpace(b.String()), nil
}
