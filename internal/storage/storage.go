// Package storage gives the matrix store read access to distance artifacts
// regardless of where the distance job wrote them: local disk or an
// S3-compatible bucket.
package storage

import (
	"context"
	"io"
	"path"
)

// FileStore is the artifact access the engine needs.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. A missing file yields an error wrapping
	// os.ErrNotExist. The caller closes the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write creates or truncates the named file. Closing the writer flushes it.
	Write(ctx context.Context, path string) (io.WriteCloser, error)
}

// DistancePath is where the distance job stores the matrix for a
// library/distance pair.
func DistancePath(library, distance string) string {
	return path.Join(library, "distances", distance)
}
