package schema

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"flowsmith/internal/safeio"
)

// Platform is the namespace every connector component type lives under.
const Platform = "appmixer."

// DirProvider reads component.json files from a connectors checkout laid out
// as <root>/appmixer/<connector>/<module>/<Component>/component.json.
type DirProvider struct {
	fsys   *safeio.SafeFS
	logger *zap.Logger
}

func NewDirProvider(root string, logger *zap.Logger) (*DirProvider, error) {
	fsys, err := safeio.NewSafeFS(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirProvider{fsys: fsys, logger: logger}, nil
}

func (p *DirProvider) Lookup(ctx context.Context, componentType string) (*Schema, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !strings.HasPrefix(componentType, Platform) {
		return nil, false, nil
	}
	parts := strings.Split(componentType, ".")
	for _, part := range parts {
		if part == "" || part == ".." || strings.ContainsAny(part, `/\`) {
			return nil, false, nil
		}
	}
	rel := filepath.Join(append(parts, "component.json")...)
	raw, err := p.fsys.SafeReadFile(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, safeio.ErrTraversal):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	s, err := ParseComponent(componentType, raw)
	if err != nil {
		p.logger.Warn("skipping unreadable component schema", zap.String("type", componentType), zap.Error(err))
		return nil, false, nil
	}
	return s, true, nil
}
