package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process catalog used by tests and the replay tooling.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	libraries map[string]Library
	features  map[string]Feature
	distances map[string]Distance
}

// NewMemory returns an empty catalog.
func NewMemory() *Memory {
	return &Memory{
		libraries: make(map[string]Library),
		features:  make(map[string]Feature),
		distances: make(map[string]Distance),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// PutLibrary inserts or replaces a library keyed by name.
func (m *Memory) PutLibrary(_ context.Context, lib Library) (Library, error) {
	if err := lib.Validate(); err != nil {
		return Library{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := m.libraries[lib.Name]; ok {
		lib.ID = prev.ID
		lib.CreatedAt = prev.CreatedAt
	} else {
		lib.ID = m.id()
		lib.CreatedAt = now
	}
	lib.UpdatedAt = now
	lib.Photos = slices.Clone(lib.Photos)
	m.libraries[lib.Name] = lib
	return lib, nil
}

// PutFeature inserts or replaces a feature of library.
func (m *Memory) PutFeature(_ context.Context, library string, f Feature) (Feature, error) {
	if err := f.Validate(); err != nil {
		return Feature{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lib, ok := m.libraries[library]
	if !ok {
		return Feature{}, fmt.Errorf("library %s: %w", library, ErrNotFound)
	}
	now := time.Now().UTC()
	if prev, ok := m.features[f.Name]; ok {
		f.ID = prev.ID
		f.CreatedAt = prev.CreatedAt
	} else {
		f.ID = m.id()
		f.CreatedAt = now
	}
	f.LibraryID = lib.ID
	f.UpdatedAt = now
	m.features[f.Name] = f
	return f, nil
}

// PutDistance inserts or replaces a distance artifact of library.
func (m *Memory) PutDistance(_ context.Context, library string, d Distance) (Distance, error) {
	if err := d.Validate(); err != nil {
		return Distance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lib, ok := m.libraries[library]
	if !ok {
		return Distance{}, fmt.Errorf("library %s: %w", library, ErrNotFound)
	}
	now := time.Now().UTC()
	if prev, ok := m.distances[d.Name]; ok {
		d.ID = prev.ID
		d.CreatedAt = prev.CreatedAt
	} else {
		d.ID = m.id()
		d.CreatedAt = now
	}
	d.LibraryID = lib.ID
	d.UpdatedAt = now
	d.PhotosList = slices.Clone(d.PhotosList)
	m.distances[d.Name] = d
	return d, nil
}

// Library returns the named library.
func (m *Memory) Library(_ context.Context, name string) (Library, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lib, ok := m.libraries[name]
	if !ok {
		return Library{}, fmt.Errorf("library %s: %w", name, ErrNotFound)
	}
	return lib, nil
}

// Distance returns the named distance artifact if it belongs to library.
func (m *Memory) Distance(_ context.Context, library, name string) (Distance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lib, ok := m.libraries[library]
	if !ok {
		return Distance{}, fmt.Errorf("library %s: %w", library, ErrNotFound)
	}
	d, ok := m.distances[name]
	if !ok || d.LibraryID != lib.ID {
		return Distance{}, fmt.Errorf("distance %s/%s: %w", library, name, ErrNotFound)
	}
	return d, nil
}

var (
	_ Reader = (*Memory)(nil)
	_ Writer = (*Memory)(nil)
)
