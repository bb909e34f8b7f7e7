package matrix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/danielpatrickdp/photo-retrieval/internal/catalog"
	"github.com/danielpatrickdp/photo-retrieval/internal/metrics"
	"github.com/danielpatrickdp/photo-retrieval/internal/storage"
)

// #region store-struct
type cacheKey struct {
	library  string
	distance string
}

// Store loads matrices through the catalog and caches them per
// (library, distance). A cached matrix is reused only while the catalog
// still reports the identity it was parsed for; concurrent loads of the same
// artifact share one parse.
type Store struct {
	catalog catalog.Reader
	files   storage.FileStore
	log     zerolog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[cacheKey]*Matrix
}

// NewStore creates a matrix store.
func NewStore(cat catalog.Reader, files storage.FileStore, log zerolog.Logger) *Store {
	return &Store{
		catalog: cat,
		files:   files,
		log:     log.With().Str("component", "matrix").Logger(),
		entries: make(map[cacheKey]*Matrix),
	}
}
// #endregion store-struct

// #region load
// Load resolves library/distance in the catalog, checks readiness and
// returns the parsed matrix.
func (s *Store) Load(ctx context.Context, library, distance string) (*Matrix, error) {
	lib, err := s.catalog.Library(ctx, library)
	if err != nil {
		return nil, err
	}
	dist, err := s.catalog.Distance(ctx, library, distance)
	if err != nil {
		return nil, err
	}
	if err := catalog.CheckReady(lib, dist); err != nil {
		return nil, err
	}
	return s.Get(ctx, lib.Name, dist)
}

// Get returns the matrix for an already-resolved distance record.
func (s *Store) Get(ctx context.Context, library string, dist catalog.Distance) (*Matrix, error) {
	identity := dist.Identity()
	key := cacheKey{library: library, distance: dist.Name}

	if m, ok := s.cached(key, identity); ok {
		metrics.MatrixCacheHits.Inc()
		return m, nil
	}

	flight := library + "\x00" + dist.Name + "\x00" + identity
	ch := s.group.DoChan(flight, func() (interface{}, error) {
		// a flight that finished between the lookup above and DoChan
		// has already stored the matrix
		if m, ok := s.cached(key, identity); ok {
			return m, nil
		}
		m, err := s.parse(context.WithoutCancel(ctx), key, dist)
		if err != nil {
			// the catalog moved on and the new artifact is unusable, so
			// the older matrix must not linger
			s.Invalidate(library, dist.Name)
		}
		return m, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Matrix), nil
	}
}

func (s *Store) cached(key cacheKey, identity string) (*Matrix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entries[key]
	if !ok || m.identity != identity {
		return nil, false
	}
	return m, true
}

func (s *Store) parse(ctx context.Context, key cacheKey, dist catalog.Distance) (*Matrix, error) {
	start := time.Now()
	path := storage.DistancePath(key.library, dist.Name)

	rc, err := s.files.Read(ctx, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.MatrixLoads.WithLabelValues("missing").Inc()
			return nil, fmt.Errorf("artifact %s missing: %w", path, ErrCorruptArtifact)
		}
		metrics.MatrixLoads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	defer rc.Close()

	m, err := Parse(rc)
	if err == nil {
		err = m.CheckOrder(dist.PhotosList)
	}
	if err != nil {
		result := "error"
		if errors.Is(err, ErrCorruptArtifact) {
			result = "corrupt"
		}
		metrics.MatrixLoads.WithLabelValues(result).Inc()
		s.log.Error().Err(err).Str("path", path).Msg("distance matrix rejected")
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	m.identity = dist.Identity()

	s.mu.Lock()
	s.entries[key] = m
	metrics.MatricesCached.Set(float64(len(s.entries)))
	s.mu.Unlock()

	metrics.MatrixLoads.WithLabelValues("ok").Inc()
	s.log.Info().
		Str("library", key.library).
		Str("distance", dist.Name).
		Str("identity", m.identity).
		Int("photos", m.Len()).
		Dur("took", time.Since(start)).
		Msg("distance matrix loaded")
	return m, nil
}
// #endregion load

// #region invalidate
// Invalidate drops the cached matrix of library/distance. Get calls it when
// the artifact for the current identity fails to load.
func (s *Store) Invalidate(library, distance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, cacheKey{library: library, distance: distance})
	metrics.MatricesCached.Set(float64(len(s.entries)))
}
// #endregion invalidate
