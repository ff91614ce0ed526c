package prompts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const historyDir = "history"

// Dir is a Store backed by <root>/<role>-system.md files. Missing files read
// as the built-in default. Each Replace archives the previous text under
// <root>/history/.
type Dir struct {
	root   string
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewDir(root string, logger *zap.Logger) (*Dir, error) {
	if root == "" {
		return nil, errors.New("prompts: empty directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("prompts: create %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{root: root, logger: logger, now: time.Now}, nil
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) Get(ctx context.Context, role Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(filepath.Join(d.root, role.FileName()))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(role)
	}
	if err != nil {
		return "", fmt.Errorf("prompts: read %s: %w", role, err)
	}
	return string(b), nil
}

func (d *Dir) Replace(ctx context.Context, role Role, text string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.root, role.FileName())
	if prev, err := os.ReadFile(path); err == nil {
		if err := d.archive(role, prev); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("prompts: read %s: %w", role, err)
	}
	if err := writeAtomic(path, []byte(text)); err != nil {
		return fmt.Errorf("prompts: write %s: %w", role, err)
	}
	d.logger.Info("prompt replaced", zap.String("role", string(role)), zap.Int("bytes", len(text)))
	return nil
}

func (d *Dir) archive(role Role, prev []byte) error {
	dir := filepath.Join(d.root, historyDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prompts: create history: %w", err)
	}
	stamp := d.now().UTC().Format("20060102T150405.000000000")
	name := fmt.Sprintf("%s-%s.md", role, stamp)
	if err := os.WriteFile(filepath.Join(dir, name), prev, 0o644); err != nil {
		return fmt.Errorf("prompts: archive %s: %w", role, err)
	}
	return nil
}

// Versions lists archived versions of role, oldest first.
func (d *Dir) Versions(role Role) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, historyDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prefix := string(role) + "-"
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, filepath.Join(d.root, historyDir, name))
	}
	sort.Strings(out)
	return out, nil
}

// WriteDefaults writes the built-in prompts for roles that have no file yet.
func (d *Dir) WriteDefaults() error {
	for _, r := range Roles {
		path := filepath.Join(d.root, r.FileName())
		if _, err := os.Stat(path); err == nil {
			continue
		}
		text, err := Default(r)
		if err != nil {
			return err
		}
		if err := writeAtomic(path, []byte(text)); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
