// Package flow models an Appmixer E2E test flow as an id-keyed component
// graph. Cross references between components are plain string ids resolved
// through the document, never object pointers.
package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Canonical component types. These strings are part of the flow wire format.
const (
	TypeOnStart        = "appmixer.utils.controls.OnStart"
	TypeAfterAll       = "appmixer.utils.test.AfterAll"
	TypeProcessResults = "appmixer.utils.test.ProcessE2EResults"
	TypeAssert         = "appmixer.utils.test.Assert"
)

// NamePrefix must start every E2E flow name.
const NamePrefix = "E2E "

var ErrNotObject = errors.New("flow: document is not a JSON object")

// Document is a parsed flow. It is never mutated after construction; callers
// that need a different flow build a new Document.
type Document struct {
	Name    string
	HasName bool
	// Components is nil when the document has no "flow" graph at all.
	Components map[string]*Component

	raw map[string]any
}

// Component is one node of the flow graph.
type Component struct {
	ID         string
	Type       string
	Upstream   map[string]struct{}
	Bindings   map[string]*Binding
	Properties map[string]any
}

// Binding is the transform configured for data arriving from one upstream
// component (config.transform.in.<Source>.out).
type Binding struct {
	Source string
	// Modifiers maps field -> varId -> modifier definition. A field whose
	// modifier value is not an object maps to nil.
	Modifiers map[string]map[string]any
	// Templates maps field -> lambda value (string or nested expression object).
	Templates    map[string]any
	HasModifiers bool
	HasTemplates bool

	rawModifiers map[string]any
}

// Parse decodes raw JSON into a Document. Only a non-object payload is an
// error; a missing graph is reported by the structural rules instead.
func Parse(raw []byte) (*Document, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("flow: decode: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return FromMap(m), nil
}

// FromMap builds a Document view over an already decoded JSON object.
func FromMap(m map[string]any) *Document {
	d := &Document{raw: m}
	switch name := m["name"].(type) {
	case nil:
	case string:
		d.Name = name
		d.HasName = name != ""
	default:
		d.Name = fmt.Sprint(name)
		d.HasName = true
	}
	graph, ok := m["flow"].(map[string]any)
	if !ok {
		return d
	}
	d.Components = make(map[string]*Component, len(graph))
	for id, v := range graph {
		d.Components[id] = parseComponent(id, asMap(v))
	}
	return d
}

func parseComponent(id string, m map[string]any) *Component {
	c := &Component{
		ID:       id,
		Upstream: map[string]struct{}{},
		Bindings: map[string]*Binding{},
	}
	c.Type, _ = m["type"].(string)
	for src := range asMap(asMap(m["source"])["in"]) {
		c.Upstream[src] = struct{}{}
	}
	cfg := asMap(m["config"])
	c.Properties = asMap(cfg["properties"])
	for src, v := range asMap(asMap(cfg["transform"])["in"]) {
		c.Bindings[src] = parseBinding(src, asMap(asMap(v)["out"]))
	}
	return c
}

func parseBinding(src string, out map[string]any) *Binding {
	b := &Binding{Source: src, Modifiers: map[string]map[string]any{}, Templates: map[string]any{}}
	if mods, ok := out["modifiers"].(map[string]any); ok {
		b.HasModifiers = true
		b.rawModifiers = mods
		for field, def := range mods {
			vars, _ := def.(map[string]any)
			b.Modifiers[field] = vars
		}
	}
	if lambda, ok := out["lambda"].(map[string]any); ok {
		b.HasTemplates = true
		for field, v := range lambda {
			b.Templates[field] = v
		}
	}
	return b
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// HasGraph reports whether the document carries a "flow" object.
func (d *Document) HasGraph() bool { return d != nil && d.Components != nil }

// ComponentIDs returns all component ids in sorted order.
func (d *Document) ComponentIDs() []string {
	ids := make([]string, 0, len(d.Components))
	for id := range d.Components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ComponentsOfType returns the components of type t ordered by id.
func (d *Document) ComponentsOfType(t string) []*Component {
	var out []*Component
	for _, id := range d.ComponentIDs() {
		if c := d.Components[id]; c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// FirstOfType returns the lowest-id component of type t.
func (d *Document) FirstOfType(t string) (*Component, bool) {
	cs := d.ComponentsOfType(t)
	if len(cs) == 0 {
		return nil, false
	}
	return cs[0], true
}

func (d *Document) Lookup(id string) (*Component, bool) {
	c, ok := d.Components[id]
	return c, ok
}

// Raw returns the decoded object the document was built from.
func (d *Document) Raw() map[string]any { return d.raw }

func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || d.raw == nil {
		return []byte("null"), nil
	}
	return json.Marshal(d.raw)
}

func (c *Component) HasUpstream(id string) bool {
	_, ok := c.Upstream[id]
	return ok
}

// UpstreamIDs returns the upstream set in sorted order.
func (c *Component) UpstreamIDs() []string {
	ids := make([]string, 0, len(c.Upstream))
	for id := range c.Upstream {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BindingSources returns the binding keys in sorted order.
func (c *Component) BindingSources() []string {
	ids := make([]string, 0, len(c.Bindings))
	for id := range c.Bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PopulatedFields is the union of template fields across all bindings.
func (c *Component) PopulatedFields() map[string]struct{} {
	out := map[string]struct{}{}
	for _, b := range c.Bindings {
		for f := range b.Templates {
			out[f] = struct{}{}
		}
	}
	return out
}

// StringProperty returns config.properties[name] when it is a non-empty string.
func (c *Component) StringProperty(name string) (string, bool) {
	s, ok := c.Properties[name].(string)
	return s, ok && s != ""
}

// RawModifiers exposes the undecoded modifiers object for tree walks.
func (b *Binding) RawModifiers() map[string]any { return b.rawModifiers }

// ModifierFields returns the binding's modifier fields in sorted order.
func (b *Binding) ModifierFields() []string {
	out := make([]string, 0, len(b.Modifiers))
	for f := range b.Modifiers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
