package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Destination is the interface for an archive target (S3, local directory).
type Destination interface {
	// Write stores one export under name, a slash-separated relative path.
	Write(ctx context.Context, name string, data []byte) error
}

// ObjectName returns the name of the export covering events synced up to to.
// The first export after start is a full snapshot; later ones are deltas.
func ObjectName(to time.Time, full bool) string {
	kind := "delta"
	if full {
		kind = "full"
	}
	to = to.UTC()
	return fmt.Sprintf("%s/%s-%s.jsonl", to.Format("2006/01/02"), kind, to.Format("20060102T150405.000Z"))
}

// DirDestination writes exports below a local directory.
type DirDestination struct {
	dir string
}

func NewDirDestination(dir string) *DirDestination {
	return &DirDestination{dir: dir}
}

// Write writes data to dir/name through a temporary file so that readers
// never see a partial export.
func (d *DirDestination) Write(_ context.Context, name string, data []byte) error {
	path := filepath.Join(d.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}
