package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/danielpatrickdp/photo-retrieval/internal/catalog"
	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/logging"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/metrics"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

// #region engine-struct

// Recorder persists session transitions.
type Recorder interface {
	Record(ctx context.Context, t logging.Transition) error
}

// Config holds the engine defaults applied at creation.
type Config struct {
	MaxIteration      int    `yaml:"max_iteration"`
	MaxIterationFaces int    `yaml:"max_iteration_faces"`
	Strategy          string `yaml:"strategy"`
}

// DefaultConfig returns the stock session limits.
func DefaultConfig() Config {
	return Config{
		MaxIteration:      DefaultMaxIteration,
		MaxIterationFaces: DefaultMaxIterationFaces,
		Strategy:          string(strategy.Random),
	}
}

// Deps are the collaborators of an Engine. Recorder may be nil.
type Deps struct {
	Catalog  catalog.Reader
	Matrices *matrix.Store
	Registry *strategy.Registry
	Repo     Repository
	Ledger   ledger.Ledger
	Recorder Recorder
	Log      zerolog.Logger
}

// Engine owns live sessions and serializes every mutation of one session
// behind that session's mutex.
type Engine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	restores singleflight.Group

	newID func() uuid.UUID
}

type entry struct {
	mu    sync.Mutex
	s     *Session
	stale bool
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.MaxIteration == 0 {
		cfg.MaxIteration = DefaultMaxIteration
	}
	if cfg.MaxIterationFaces == 0 {
		cfg.MaxIterationFaces = DefaultMaxIterationFaces
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.With().Str("component", "session").Logger(),
		sessions: make(map[string]*entry),
		newID:    uuid.New,
	}
}

// #endregion engine-struct

// #region create

// Create validates req against the catalog and the distance matrix and
// stores a pending session. Artifact problems are returned as catalog and
// matrix errors; nothing is stored in that case.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (View, error) {
	name := req.Strategy
	if name == "" {
		name = e.cfg.Strategy
	}
	kind, err := strategy.ParseKind(name)
	if err != nil {
		return View{}, fmt.Errorf("create: %w: %w", ErrInvalidRequest, err)
	}
	strat, err := e.deps.Registry.Get(kind)
	if err != nil {
		return View{}, fmt.Errorf("create: %w: %w", ErrInvalidRequest, err)
	}
	if req.Library == "" || req.Distance == "" {
		return View{}, fmt.Errorf("create: library and distance are required: %w", ErrInvalidRequest)
	}

	maxIter, faces := req.MaxIteration, req.MaxIterationFaces
	if maxIter == 0 {
		maxIter = e.cfg.MaxIteration
	}
	if faces == 0 {
		faces = e.cfg.MaxIterationFaces
	}
	if maxIter < 1 || faces < 1 {
		return View{}, fmt.Errorf("create: max_iteration %d, max_iteration_faces %d: %w", maxIter, faces, ErrInvalidRequest)
	}

	lib, err := e.deps.Catalog.Library(ctx, req.Library)
	if err != nil {
		return View{}, err
	}
	dist, err := e.deps.Catalog.Distance(ctx, req.Library, req.Distance)
	if err != nil {
		return View{}, err
	}
	if err := catalog.CheckReady(lib, dist); err != nil {
		return View{}, err
	}
	m, err := e.deps.Matrices.Get(ctx, lib.Name, dist)
	if err != nil {
		return View{}, err
	}
	if lib.Count != m.Len() {
		return View{}, fmt.Errorf("library %s counts %d photos, distance %s covers %d: %w",
			lib.Name, lib.Count, dist.Name, m.Len(), catalog.ErrNotReady)
	}
	if req.SeedPhoto != "" && !m.Has(req.SeedPhoto) {
		return View{}, fmt.Errorf("seed photo %s: %w", req.SeedPhoto, matrix.ErrUnknownPhoto)
	}

	id := e.newID()
	now := time.Now().UTC()
	r := Retrieval{
		ID:                id.String(),
		UserID:            req.UserID,
		Remark:            req.Remark,
		Library:           lib.Name,
		Distance:          dist.Name,
		Artifact:          m.Identity(),
		Strategy:          string(kind),
		MaxIteration:      maxIter,
		MaxIterationFaces: faces,
		Status:            StatusPending,
		Seed:              int64(binary.BigEndian.Uint64(id[:8])),
		SeedPhoto:         req.SeedPhoto,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.deps.Repo.Save(ctx, r); err != nil {
		return View{}, err
	}

	s := New(r, strat, m, e.deps.Ledger)
	s.record("created", "", StatusPending, 0, logging.TransitionDetail{}, "")
	e.mu.Lock()
	e.sessions[r.ID] = &entry{s: s}
	e.mu.Unlock()

	metrics.SessionsCreated.WithLabelValues(r.Strategy).Inc()
	e.flush(ctx, s)
	return s.View(), nil
}

// #endregion create

// #region operations

// Start opens round 0 of a pending session.
func (e *Engine) Start(ctx context.Context, id string) (View, error) {
	return e.mutate(ctx, id, func(s *Session) error { return s.Start(ctx) })
}

// SubmitAnswer answers round no of session id.
func (e *Engine) SubmitAnswer(ctx context.Context, id string, no int, answer string) (View, error) {
	v, err := e.mutate(ctx, id, func(s *Session) error { return s.SubmitAnswer(ctx, no, answer) })
	if err != nil && Classify(err) == ClassSession {
		metrics.SubmissionsRejected.WithLabelValues(Reason(err)).Inc()
	}
	return v, err
}

// Abort ends a session. Aborting an ended session is a no-op.
func (e *Engine) Abort(ctx context.Context, id, reason string) (View, error) {
	return e.mutate(ctx, id, func(s *Session) error {
		s.Abort(reason)
		return nil
	})
}

// Get returns the display form of a session.
func (e *Engine) Get(ctx context.Context, id string) (View, error) {
	var v View
	err := e.with(ctx, id, func(s *Session) { v = s.View() })
	return v, err
}

// History returns the rounds of a session in order.
func (e *Engine) History(ctx context.Context, id string) ([]ledger.Iteration, error) {
	var h []ledger.Iteration
	err := e.with(ctx, id, func(s *Session) { h = s.History() })
	return h, err
}

// #endregion operations

// #region serialization

// with runs fn while holding the session's lock.
func (e *Engine) with(ctx context.Context, id string, fn func(*Session)) error {
	for {
		ent, err := e.acquire(ctx, id)
		if err != nil {
			return err
		}
		ent.mu.Lock()
		if ent.stale {
			ent.mu.Unlock()
			continue
		}
		fn(ent.s)
		e.release(id, ent)
		ent.mu.Unlock()
		return nil
	}
}

// mutate applies fn under the session lock and persists the record when it
// changed. A failed save evicts the in-memory session so the next access
// rebuilds it from durable state.
func (e *Engine) mutate(ctx context.Context, id string, fn func(*Session) error) (View, error) {
	for {
		ent, err := e.acquire(ctx, id)
		if err != nil {
			return View{}, err
		}
		ent.mu.Lock()
		if ent.stale {
			ent.mu.Unlock()
			continue
		}
		v, err := e.apply(ctx, id, ent, fn)
		ent.mu.Unlock()
		return v, err
	}
}

func (e *Engine) apply(ctx context.Context, id string, ent *entry, fn func(*Session) error) (View, error) {
	s := ent.s
	before := s.Retrieval()
	if err := fn(s); err != nil {
		s.drain()
		e.release(id, ent)
		e.log.Debug().Err(err).Str("retrieval", id).Msg("operation rejected")
		return View{}, err
	}
	if after := s.Retrieval(); after != before {
		if err := e.deps.Repo.Save(ctx, after); err != nil {
			ent.stale = true
			e.drop(id, ent)
			e.log.Error().Err(err).Str("retrieval", id).Msg("session evicted after failed save")
			return View{}, err
		}
	}
	e.flush(ctx, s)
	v := s.View()
	if s.r.Status.Terminal() {
		// ended sessions are served from durable state from now on
		e.drop(id, ent)
	}
	e.release(id, ent)
	return v, nil
}

// release evicts a detached session once an operation on it finished, so
// the next access tries to load the matrix again. Called with ent.mu held.
func (e *Engine) release(id string, ent *entry) {
	if !ent.s.Detached() {
		return
	}
	ent.stale = true
	e.drop(id, ent)
}

func (e *Engine) drop(id string, ent *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[id] == ent {
		delete(e.sessions, id)
	}
}

// acquire returns the live entry of id, restoring it from the repository
// and ledger at most once concurrently.
func (e *Engine) acquire(ctx context.Context, id string) (*entry, error) {
	e.mu.Lock()
	ent, ok := e.sessions[id]
	e.mu.Unlock()
	if ok {
		return ent, nil
	}

	v, err, _ := e.restores.Do(id, func() (interface{}, error) {
		e.mu.Lock()
		if ent, ok := e.sessions[id]; ok {
			e.mu.Unlock()
			return ent, nil
		}
		e.mu.Unlock()

		s, err := e.restore(ctx, id)
		if err != nil {
			return nil, err
		}
		ent := &entry{s: s}
		e.mu.Lock()
		e.sessions[id] = ent
		e.mu.Unlock()
		return ent, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (e *Engine) restore(ctx context.Context, id string) (*Session, error) {
	r, err := e.deps.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	kind, err := strategy.ParseKind(r.Strategy)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	strat, err := e.deps.Registry.Get(kind)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	var s *Session
	m, err := e.pinned(ctx, r)
	switch {
	case err == nil:
		s, err = Restore(ctx, r, strat, m, e.deps.Ledger)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("restore %s: %w", id, err)
	default:
		e.log.Warn().Err(err).Str("retrieval", id).Msg("session restored without matrix")
		s, err = Detach(ctx, r, strat, e.deps.Ledger, err)
		if err == nil && errors.Is(s.unavailable, ErrArtifactChanged) && !s.r.Status.Terminal() {
			s.finish(StatusExhausted, "distance artifact changed since the session started")
		}
	}
	if err != nil {
		return nil, err
	}
	if after := s.Retrieval(); after != r {
		if err := e.deps.Repo.Save(ctx, after); err != nil {
			return nil, err
		}
	}
	e.flush(ctx, s)
	e.log.Info().
		Str("retrieval", id).
		Str("status", string(s.r.Status)).
		Int("round", s.r.IteratorPointer).
		Msg("session restored")
	return s, nil
}

// pinned returns the matrix r was created against. Readiness is not checked
// again: a library that is being reprocessed keeps serving the artifact a
// session started on, as long as the catalog still names it.
func (e *Engine) pinned(ctx context.Context, r Retrieval) (*matrix.Matrix, error) {
	dist, err := e.deps.Catalog.Distance(ctx, r.Library, r.Distance)
	if err != nil {
		return nil, err
	}
	if r.Artifact != "" && dist.Identity() != r.Artifact {
		return nil, fmt.Errorf("%s/%s is now %s, session %s started on %s: %w",
			r.Library, r.Distance, dist.Identity(), r.ID, r.Artifact, ErrArtifactChanged)
	}
	return e.deps.Matrices.Get(ctx, r.Library, dist)
}

// #endregion serialization

// #region transitions

// flush logs and records the transitions the session accumulated. A
// recorder failure is logged and does not fail the operation.
func (e *Engine) flush(ctx context.Context, s *Session) {
	for _, t := range s.drain() {
		lvl := zerolog.InfoLevel
		if t.Event == "round_opened" || t.Event == "answered" {
			lvl = zerolog.DebugLevel
		}
		e.log.WithLevel(lvl).Str("retrieval", t.RetrievalID).
			Str("event", t.Event).
			Str("status", t.To).
			Int("round", t.Round).
			Int("remaining", t.Detail.Remaining).
			Str("reason", t.Reason).
			Msg("session transition")

		if e.deps.Recorder == nil {
			continue
		}
		if err := e.deps.Recorder.Record(ctx, t); err != nil {
			e.log.Warn().Err(err).Str("retrieval", t.RetrievalID).Msg("record transition failed")
		}
	}
}

// #endregion transitions
