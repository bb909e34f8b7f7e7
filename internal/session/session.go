package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/logging"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/metrics"
	"github.com/danielpatrickdp/photo-retrieval/internal/pool"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

// #region session-struct
// Session drives one retrieval through its states. It is not safe for
// concurrent use; the Engine serializes access per session id.
type Session struct {
	r       Retrieval
	strat   strategy.Strategy
	m       *matrix.Matrix
	pool    *pool.Pool
	ledger  ledger.Ledger
	history []ledger.Iteration
	events  []logging.Transition
	now     func() time.Time

	// unavailable is set when the session was restored without its matrix.
	unavailable error
}

// New wraps a pending retrieval.
func New(r Retrieval, strat strategy.Strategy, m *matrix.Matrix, l ledger.Ledger) *Session {
	return &Session{
		r:      r,
		strat:  strat,
		m:      m,
		ledger: l,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Restore rebuilds a session from its stored record and ledger history.
// The candidate pool is recomputed by replaying every round: options are
// excluded when the round opens and the strategy narrows after each
// answer. The number of answered rounds in the ledger wins over the
// stored pointer.
func Restore(ctx context.Context, r Retrieval, strat strategy.Strategy, m *matrix.Matrix, l ledger.Ledger) (*Session, error) {
	s, err := load(ctx, r, strat, m, l)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusPending && len(s.history) == 0 {
		return s, nil
	}

	s.pool = pool.New(m.Photos())
	answered := 0
	for _, it := range s.history {
		for _, id := range it.Options {
			if s.pool.WasShown(id) {
				return nil, fmt.Errorf("restore %s round %d: photo %s was offered before", r.ID, it.No, id)
			}
		}
		s.pool.Exclude(it.Options...)
		if !it.Answered() {
			continue
		}
		if err := strat.Narrow(s.pool, m, it); err != nil {
			return nil, fmt.Errorf("restore %s round %d: %w", r.ID, it.No, err)
		}
		answered++
	}
	s.r.IteratorPointer = answered

	if s.r.Status == StatusActive && len(s.history) == answered {
		s.advance(ctx)
	}
	return s, nil
}

// Detach rebuilds a session whose distance matrix cannot be used, cause
// saying why. History and the round pointer come from the ledger but no
// pool is rebuilt: the session can be viewed and aborted, while Start and
// SubmitAnswer fail with cause.
func Detach(ctx context.Context, r Retrieval, strat strategy.Strategy, l ledger.Ledger, cause error) (*Session, error) {
	s, err := load(ctx, r, strat, nil, l)
	if err != nil {
		return nil, err
	}
	s.unavailable = cause
	answered := 0
	for _, it := range s.history {
		if it.Answered() {
			answered++
		}
	}
	if len(s.history) > 0 {
		s.r.IteratorPointer = answered
	}
	return s, nil
}

func load(ctx context.Context, r Retrieval, strat strategy.Strategy, m *matrix.Matrix, l ledger.Ledger) (*Session, error) {
	hist, err := l.History(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", r.ID, err)
	}
	s := New(r, strat, m, l)
	s.history = hist
	if r.Status == StatusPending && len(hist) > 0 {
		s.r.Status = StatusActive
	}
	return s, nil
}
// #endregion session-struct

// #region accessors
// Retrieval returns a copy of the session record.
func (s *Session) Retrieval() Retrieval { return s.r }

// History returns a copy of the rounds so far.
func (s *Session) History() []ledger.Iteration { return slices.Clone(s.history) }

// OpenRound returns the round awaiting an answer, if any.
func (s *Session) OpenRound() (ledger.Iteration, bool) {
	if s.r.Status != StatusActive || s.r.IteratorPointer >= len(s.history) {
		return ledger.Iteration{}, false
	}
	return s.history[s.r.IteratorPointer], true
}

// Remaining returns the number of candidates left, or 0 for a detached
// session.
func (s *Session) Remaining() int {
	switch {
	case s.pool != nil:
		return s.pool.Size()
	case s.m != nil:
		return s.m.Len()
	}
	return 0
}

// Detached reports whether the session runs without its distance matrix.
func (s *Session) Detached() bool { return s.unavailable != nil }

// Estimate returns the strategy's best guess at the target.
func (s *Session) Estimate() string {
	if s.pool == nil {
		return ""
	}
	return s.strat.Estimate(s.input())
}

func (s *Session) drain() []logging.Transition {
	out := s.events
	s.events = nil
	return out
}
// #endregion accessors

// #region start
// Start moves a pending session to active and opens round 0. A session
// whose first round cannot be built ends exhausted.
func (s *Session) Start(ctx context.Context) error {
	if s.r.Status != StatusPending {
		return fmt.Errorf("start %s in %s: %w", s.r.ID, s.r.Status, ErrInvalidState)
	}
	if s.unavailable != nil {
		return fmt.Errorf("start %s: %w", s.r.ID, s.unavailable)
	}
	prev, mark := s.r, len(s.events)

	s.pool = pool.New(s.m.Photos())
	s.r.IteratorPointer = 0
	s.transition(StatusActive, "started", "")
	if err := s.openRound(ctx); err != nil {
		s.r, s.pool, s.events = prev, nil, s.events[:mark]
		return err
	}
	return nil
}
// #endregion start

// #region submit
// SubmitAnswer answers round no. Rejections leave the session unchanged.
func (s *Session) SubmitAnswer(ctx context.Context, no int, answer string) error {
	if s.r.Status != StatusActive {
		if no >= 0 && no < len(s.history) && s.history[no].Answered() {
			return fmt.Errorf("round %d of %s: %w", no, s.r.ID, ErrAlreadyAnswered)
		}
		return fmt.Errorf("round %d of %s session %s: %w", no, s.r.Status, s.r.ID, ErrStaleRound)
	}
	if no < s.r.IteratorPointer {
		return fmt.Errorf("round %d of %s: %w", no, s.r.ID, ErrAlreadyAnswered)
	}
	if no != s.r.IteratorPointer || no >= len(s.history) {
		return fmt.Errorf("round %d of %s, open round is %d: %w", no, s.r.ID, s.r.IteratorPointer, ErrStaleRound)
	}
	it := s.history[no]
	if !it.HasOption(answer) {
		return fmt.Errorf("%q in round %d of %s: %w", answer, no, s.r.ID, ErrInvalidAnswer)
	}
	if s.unavailable != nil {
		return fmt.Errorf("round %d of %s: %w", no, s.r.ID, s.unavailable)
	}

	at := s.now()
	it.Answer, it.AnsweredAt = answer, at
	narrowed := s.pool.Clone()
	if err := s.strat.Narrow(narrowed, s.m, it); err != nil {
		return fmt.Errorf("narrow round %d of %s: %w", no, s.r.ID, err)
	}
	if err := s.ledger.RecordAnswer(ctx, s.r.ID, no, answer, at); err != nil {
		return err
	}

	s.history[no] = it
	s.pool = narrowed
	s.r.IteratorPointer++
	s.r.UpdatedAt = at
	s.record("answered", s.r.Status, s.r.Status, no, logging.TransitionDetail{Answer: answer}, "")
	s.advance(ctx)
	return nil
}

// advance settles the session after an answer: converge on a single
// candidate, stop at the iteration limit, or open the next round.
func (s *Session) advance(ctx context.Context) {
	switch {
	case s.pool.Size() == 1:
		s.r.Target = s.pool.Remaining()[0]
		s.finish(StatusConverged, "single candidate remains")
	case s.r.IteratorPointer >= s.r.MaxIteration:
		s.finish(StatusExhausted, fmt.Sprintf("iteration limit %d reached", s.r.MaxIteration))
	default:
		if err := s.openRound(ctx); err != nil {
			s.finish(StatusExhausted, err.Error())
		}
	}
}
// #endregion submit

// #region abort
// Abort ends a pending or active session. It reports false, without
// error, when the session already ended.
func (s *Session) Abort(reason string) bool {
	if s.r.Status.Terminal() {
		return false
	}
	if reason == "" {
		reason = "aborted"
	}
	s.finish(StatusAborted, reason)
	return true
}
// #endregion abort

// #region rounds
func (s *Session) input() strategy.Input {
	return strategy.Input{
		Pool:      s.pool,
		Matrix:    s.m,
		History:   s.history,
		K:         s.r.MaxIterationFaces,
		Round:     s.r.IteratorPointer,
		Seed:      s.r.Seed,
		Reference: s.r.SeedPhoto,
	}
}

// openRound selects and records the next round. Strategy failures end the
// session exhausted; only ledger failures are returned.
func (s *Session) openRound(ctx context.Context) error {
	start := time.Now()
	sel, err := s.strat.Select(s.input())
	metrics.SelectionDuration.WithLabelValues(s.r.Strategy).Observe(time.Since(start).Seconds())
	if err != nil {
		s.finish(StatusExhausted, fmt.Sprintf("round %d: %v", s.r.IteratorPointer, err))
		return nil
	}

	it := ledger.Iteration{
		RetrievalID:  s.r.ID,
		No:           s.r.IteratorPointer,
		Distribution: sel.Distribution,
		Options:      sel.Options,
		CreatedAt:    s.now(),
	}
	if err := s.ledger.Append(ctx, it); err != nil {
		return fmt.Errorf("open round %d of %s: %w", it.No, s.r.ID, err)
	}
	s.pool.Exclude(it.Options...)
	s.history = append(s.history, it)
	s.r.UpdatedAt = it.CreatedAt

	metrics.RoundsOpened.WithLabelValues(s.r.Strategy).Inc()
	s.record("round_opened", s.r.Status, s.r.Status, it.No, logging.TransitionDetail{
		Options:      it.Options,
		Distribution: it.Distribution,
	}, "")
	return nil
}
// #endregion rounds

// #region transitions
func (s *Session) transition(to Status, event, reason string) {
	from := s.r.Status
	s.r.Status = to
	s.r.UpdatedAt = s.now()
	s.record(event, from, to, s.r.IteratorPointer, logging.TransitionDetail{}, reason)
}

func (s *Session) finish(to Status, reason string) {
	s.r.Reason = reason
	if to != StatusConverged {
		s.r.Target = ""
	}
	s.transition(to, string(to), reason)
	s.r.EndedAt = s.r.UpdatedAt
	metrics.SessionsFinished.WithLabelValues(s.r.Strategy, string(to)).Inc()
}

func (s *Session) record(event string, from, to Status, round int, detail logging.TransitionDetail, reason string) {
	detail.Remaining = s.Remaining()
	if to == StatusConverged {
		detail.Target = s.r.Target
	}
	s.events = append(s.events, logging.Transition{
		RetrievalID: s.r.ID,
		Event:       event,
		From:        string(from),
		To:          string(to),
		Round:       round,
		Detail:      detail,
		Reason:      reason,
		CreatedAt:   s.now(),
	})
}
// #endregion transitions
