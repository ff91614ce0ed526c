package runlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flowsmith/internal/util/jsonutil"
)

// DiskSink writes each run as <dir>/run-<unix millis>.json.
type DiskSink struct {
	dir string
}

func NewDiskSink(dir string) (*DiskSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("runlog: log directory is required")
	}
	return &DiskSink{dir: dir}, nil
}

func (d *DiskSink) Save(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("runlog: create %s: %w", d.dir, err)
	}
	b, err := jsonutil.MarshalNoEscapeIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("runlog: encode: %w", err)
	}
	path := d.PathFor(e)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("runlog: write %s: %w", path, err)
	}
	return nil
}

// PathFor is the file an entry is written to.
func (d *DiskSink) PathFor(e *Entry) string {
	return filepath.Join(d.dir, fmt.Sprintf("run-%d.json", e.FinishedAt.UnixMilli()))
}
