package flow

import (
	"regexp"
	"sort"
)

var variablePathRe = regexp.MustCompile(`^\$\.([^.]+)\.`)

// VariableRef is a parsed modifier variable path of the form $.<componentId>.<rest>.
type VariableRef struct {
	Path      string
	Component string
}

// ParseVariableRef extracts the referenced component id from a variable path.
func ParseVariableRef(path string) (VariableRef, bool) {
	m := variablePathRe.FindStringSubmatch(path)
	if m == nil {
		return VariableRef{}, false
	}
	return VariableRef{Path: path, Component: m[1]}, true
}

// Token returns the interpolation marker for a modifier variable.
func Token(varID string) string { return "{{{" + varID + "}}}" }

// WalkVariables calls fn for every object in tree that carries a string
// "variable" key, depth first. Map keys are visited in sorted order.
func WalkVariables(tree any, fn func(path string)) {
	switch x := tree.(type) {
	case map[string]any:
		if v, ok := x["variable"].(string); ok && v != "" {
			fn(v)
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			WalkVariables(x[k], fn)
		}
	case []any:
		for _, v := range x {
			WalkVariables(v, fn)
		}
	}
}

// VarIDs returns the keys of a modifier map in sorted order.
func VarIDs(vars map[string]any) []string {
	out := make([]string, 0, len(vars))
	for k := range vars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
