package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Local implements FileStore on the local filesystem under a root directory.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

func (l *Local) resolve(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

// Read opens the named file for reading.
func (l *Local) Read(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(l.resolve(path))
}

// Write opens the named file for writing, creating parent directories.
func (l *Local) Write(_ context.Context, path string) (io.WriteCloser, error) {
	full := l.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return os.Create(full)
}

var _ FileStore = (*Local)(nil)
