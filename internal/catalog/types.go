// Package catalog holds the records produced by the ingestion, feature and
// distance jobs that run outside the retrieval engine. The engine only reads
// them to decide whether a session may start.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// #region errors
var (
	// ErrNotFound is returned when no Library or Distance matches.
	ErrNotFound = errors.New("catalog: not found")
	// ErrNotReady is returned when an artifact exists but is not computed yet.
	ErrNotReady = errors.New("catalog: not ready")
	// ErrInvalidRecord is returned by writers for records that break an invariant.
	ErrInvalidRecord = errors.New("catalog: invalid record")
)
// #endregion errors

// #region status
// Status mirrors the state of the background job that owns a record.
type Status string

const (
	StatusOK         Status = "ok"
	StatusProcessing Status = "processing"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusProcessing, StatusError:
		return true
	}
	return false
}
// #endregion status

// #region library
// Library is a named photo collection.
type Library struct {
	ID        int64
	Name      string
	Detail    string
	Available bool
	Hash      string
	Status    Status
	Photos    []string
	Count     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the count and availability invariants.
func (l Library) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("library: empty name: %w", ErrInvalidRecord)
	}
	if !l.Status.Valid() {
		return fmt.Errorf("library %s: status %q: %w", l.Name, l.Status, ErrInvalidRecord)
	}
	if l.Count != len(l.Photos) {
		return fmt.Errorf("library %s: count %d != %d photos: %w", l.Name, l.Count, len(l.Photos), ErrInvalidRecord)
	}
	if l.Status == StatusProcessing && l.Available {
		return fmt.Errorf("library %s: available while processing: %w", l.Name, ErrInvalidRecord)
	}
	return nil
}
// #endregion library

// #region feature
// Feature is an extracted feature set for a library. The engine never reads
// features; they are kept so the catalog mirrors the job pipeline.
type Feature struct {
	ID         int64
	Name       string
	LibraryID  int64
	Algorithm  string
	Parameters map[string]any
	Available  bool
	Progress   int
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks progress bounds.
func (f Feature) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("feature: empty name: %w", ErrInvalidRecord)
	}
	if f.Progress < 0 || f.Progress > 100 {
		return fmt.Errorf("feature %s: progress %d: %w", f.Name, f.Progress, ErrInvalidRecord)
	}
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("feature %s: status %q: %w", f.Name, f.Status, ErrInvalidRecord)
	}
	return nil
}
// #endregion feature

// #region distance
// Distance describes an on-disk distance matrix. PhotosList fixes the row
// and column order of the matrix file.
type Distance struct {
	ID          int64
	Name        string
	Detail      string
	Hash        string
	LibraryID   int64
	FeatureName string
	Algorithm   string
	PhotosList  []string
	Available   bool
	Progress    int
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks progress bounds and status.
func (d Distance) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("distance: empty name: %w", ErrInvalidRecord)
	}
	if d.Progress < 0 || d.Progress > 100 {
		return fmt.Errorf("distance %s: progress %d: %w", d.Name, d.Progress, ErrInvalidRecord)
	}
	if d.Status != "" && !d.Status.Valid() {
		return fmt.Errorf("distance %s: status %q: %w", d.Name, d.Status, ErrInvalidRecord)
	}
	return nil
}

// Identity returns the value that changes whenever the artifact is rewritten.
func (d Distance) Identity() string {
	if d.Hash != "" {
		return d.Hash
	}
	return fmt.Sprintf("%d@%d", d.ID, d.UpdatedAt.UnixNano())
}
// #endregion distance

// #region reader
// Reader is the read side the retrieval engine depends on.
type Reader interface {
	Library(ctx context.Context, name string) (Library, error)
	Distance(ctx context.Context, library, name string) (Distance, error)
}

// Writer is used by the jobs that produce libraries and artifacts.
type Writer interface {
	PutLibrary(ctx context.Context, lib Library) (Library, error)
	PutFeature(ctx context.Context, library string, f Feature) (Feature, error)
	PutDistance(ctx context.Context, library string, d Distance) (Distance, error)
}
// #endregion reader

// #region readiness
// CheckReady reports whether a session may start on lib with dist.
func CheckReady(lib Library, dist Distance) error {
	if lib.Status != StatusOK || !lib.Available {
		return fmt.Errorf("library %s is %s: %w", lib.Name, lib.Status, ErrNotReady)
	}
	if dist.Status != StatusOK || !dist.Available {
		return fmt.Errorf("distance %s is %s (%d%%): %w", dist.Name, dist.Status, dist.Progress, ErrNotReady)
	}
	return nil
}
// #endregion readiness
