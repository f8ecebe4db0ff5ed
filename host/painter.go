package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"opaper/library"
)

// FilePainter publishes the applied background as <Dir>/<kind>/<file name>, replacing the previous
// one, for a desktop renderer watching Dir.
type FilePainter struct {
	Dir string
}

func (p FilePainter) Apply(_ context.Context, b library.Background) error {
	dir := filepath.Join(p.Dir, string(b.Kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("painter: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".apply-*")
	if err != nil {
		return fmt.Errorf("painter: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.Code); err != nil {
		tmp.Close()
		return fmt.Errorf("painter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("painter: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, b.FileName()))
}
