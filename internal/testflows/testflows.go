// Package testflows finds the E2E test flow files that ship with a connector
// in a connectors checkout.
package testflows

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"flowsmith/internal/flow"
	"flowsmith/internal/safeio"
)

const (
	filePrefix = "test-flow"
	fileExt    = ".json"
)

// locations are searched in order; the first file with a given flow name wins.
var locations = []string{
	".",
	filepath.Join("ai-artifacts", "test-flows"),
	filepath.Join("artifacts", "test-flows"),
	filepath.Join("artifacts", "ai-artifacts", "test-flows"),
}

var skipDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true}

// LocalFlow is a test flow file found on disk.
type LocalFlow struct {
	Name      string
	Connector string
	// Path is relative to the checkout root.
	Path     string
	Document *flow.Document
}

// Finder reads a checkout laid out as <root>/appmixer/<connector>/...
type Finder struct {
	fsys   *safeio.SafeFS
	logger *zap.Logger
}

func NewFinder(root string, logger *zap.Logger) (*Finder, error) {
	fsys, err := safeio.NewSafeFS(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{fsys: fsys, logger: logger}, nil
}

// Connectors lists the connector directories in the checkout.
func (f *Finder) Connectors() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.fsys.Root(), "appmixer"))
	if err != nil {
		return nil, fmt.Errorf("testflows: list connectors: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || skipDirs[name] {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// Find returns the test flows of connector. Files that do not parse or have
// no "flow" object are skipped with a warning.
func (f *Finder) Find(connector string) ([]LocalFlow, error) {
	connector = strings.TrimSpace(connector)
	if connector == "" || strings.ContainsAny(connector, `/\`) || connector == ".." {
		return nil, fmt.Errorf("testflows: invalid connector name %q", connector)
	}
	base := filepath.Join("appmixer", connector)
	if _, err := f.fsys.SafeStat(base); err != nil {
		return nil, fmt.Errorf("testflows: connector %s: %w", connector, err)
	}

	var out []LocalFlow
	seen := map[string]bool{}
	for _, loc := range locations {
		dir := filepath.Join(base, loc)
		entries, err := os.ReadDir(filepath.Join(f.fsys.Root(), dir))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("testflows: read %s: %w", dir, err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileExt) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			rel := filepath.Join(dir, name)
			lf, ok := f.load(connector, rel)
			if !ok || seen[lf.Name] {
				continue
			}
			seen[lf.Name] = true
			out = append(out, lf)
		}
	}
	return out, nil
}

func (f *Finder) load(connector, rel string) (LocalFlow, bool) {
	raw, err := f.fsys.SafeReadFile(rel)
	if err != nil {
		f.logger.Warn("read test flow", zap.String("path", rel), zap.Error(err))
		return LocalFlow{}, false
	}
	doc, err := flow.Parse(raw)
	if err != nil {
		f.logger.Warn("parse test flow", zap.String("path", rel), zap.Error(err))
		return LocalFlow{}, false
	}
	if !doc.HasGraph() {
		return LocalFlow{}, false
	}
	name := doc.Name
	if name == "" {
		name = filepath.Base(rel)
	}
	return LocalFlow{Name: name, Connector: connector, Path: rel, Document: doc}, true
}
