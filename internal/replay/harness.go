package replay

import (
	"context"
	"fmt"
	"slices"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

// #region types
// Answerer picks the answer to an open round. It reports false to stop
// the replay with the round left open.
type Answerer func(it ledger.Iteration, m *matrix.Matrix) (string, bool)

// Result captures one round of a replay.
type Result struct {
	Round        int
	Options      []string
	Distribution []float64
	Answer       string // empty if the replay stopped on this round
	Remaining    int
	Status       session.Status
}

// Summary provides the outcome of a replay run.
type Summary struct {
	Rounds   int
	Answered int
	Status   session.Status
	Target   string
	Estimate string
	Reason   string
}

// Run is a full replay: every round in order and the outcome.
type Run struct {
	Results []Result
	Summary Summary
}
// #endregion types

// #region answerers

// Scripted answers round i with answers[i] and stops when they run out.
func Scripted(answers []string) Answerer {
	return func(it ledger.Iteration, _ *matrix.Matrix) (string, bool) {
		if it.No >= len(answers) {
			return "", false
		}
		return answers[it.No], true
	}
}

// FromHistory answers with the recorded answers of a session.
func FromHistory(hist []ledger.Iteration) Answerer {
	answers := make([]string, 0, len(hist))
	for _, it := range hist {
		if !it.Answered() {
			break
		}
		answers = append(answers, it.Answer)
	}
	return Scripted(answers)
}

// Oracle simulates a user looking for target: each round it picks the
// option closest to target, the earlier option on ties.
func Oracle(target string) Answerer {
	return func(it ledger.Iteration, m *matrix.Matrix) (string, bool) {
		dists, err := m.Distances(target)
		if err != nil || len(it.Options) == 0 {
			return "", false
		}
		best, bestDist := "", 0.0
		for _, opt := range it.Options {
			j, err := m.Index(opt)
			if err != nil {
				continue
			}
			if best == "" || dists[j] < bestDist {
				best, bestDist = opt, dists[j]
			}
		}
		return best, best != ""
	}
}

// #endregion answerers

// #region replay

// Replay drives a fresh in-memory session for r through the strategy,
// answering each round with answer, until the session ends or the
// answerer stops. The same inputs always produce the same rounds.
func Replay(ctx context.Context, r session.Retrieval, strat strategy.Strategy, m *matrix.Matrix, answer Answerer) (Run, error) {
	r.Status = session.StatusPending
	r.IteratorPointer, r.Target, r.Reason = 0, "", ""
	s := session.New(r, strat, m, ledger.NewMemory())
	if err := s.Start(ctx); err != nil {
		return Run{}, fmt.Errorf("start replay %s: %w", r.ID, err)
	}

	var run Run
	for {
		it, ok := s.OpenRound()
		if !ok {
			break
		}
		res := Result{
			Round:        it.No,
			Options:      slices.Clone(it.Options),
			Distribution: slices.Clone(it.Distribution),
			Remaining:    s.Remaining(),
			Status:       session.StatusActive,
		}
		ans, ok := answer(it, m)
		if !ok {
			run.Results = append(run.Results, res)
			break
		}
		if err := s.SubmitAnswer(ctx, it.No, ans); err != nil {
			return run, fmt.Errorf("replay round %d of %s: %w", it.No, r.ID, err)
		}
		res.Answer = ans
		res.Remaining = s.Remaining()
		res.Status = s.Retrieval().Status
		run.Results = append(run.Results, res)
	}
	run.Summary = summarize(s, run.Results)
	return run, nil
}

// RunFixture replays a fixture with the strategy configuration it names.
func RunFixture(ctx context.Context, f *Fixture) (Run, error) {
	m, err := f.ToMatrix()
	if err != nil {
		return Run{}, fmt.Errorf("fixture matrix: %w", err)
	}
	registry, err := strategy.NewRegistry(f.Config.ToStrategyConfig())
	if err != nil {
		return Run{}, fmt.Errorf("fixture config: %w", err)
	}
	r := f.ToRetrieval()
	kind, err := strategy.ParseKind(r.Strategy)
	if err != nil {
		return Run{}, err
	}
	strat, err := registry.Get(kind)
	if err != nil {
		return Run{}, err
	}
	return Replay(ctx, r, strat, m, f.Answerer())
}

func summarize(s *session.Session, results []Result) Summary {
	r := s.Retrieval()
	sum := Summary{
		Rounds:   len(results),
		Answered: r.IteratorPointer,
		Status:   r.Status,
		Target:   r.Target,
		Reason:   r.Reason,
	}
	if r.Status != session.StatusConverged {
		sum.Estimate = s.Estimate()
	}
	return sum
}

// #endregion replay

// #region verify

// Verify compares a run with the fixture's expectations and returns one
// line per mismatch.
func Verify(f *Fixture, run Run) []string {
	var diffs []string
	exp := f.Expected
	for i, want := range exp.Rounds {
		if i >= len(run.Results) {
			diffs = append(diffs, fmt.Sprintf("round %d: expected %v, round never opened", i, want))
			continue
		}
		if got := run.Results[i].Options; !slices.Equal(got, want) {
			diffs = append(diffs, fmt.Sprintf("round %d: expected options %v, got %v", i, want, got))
		}
	}
	if exp.Status != "" && string(run.Summary.Status) != exp.Status {
		diffs = append(diffs, fmt.Sprintf("status: expected %s, got %s", exp.Status, run.Summary.Status))
	}
	if exp.Target != "" && run.Summary.Target != exp.Target {
		diffs = append(diffs, fmt.Sprintf("target: expected %s, got %q", exp.Target, run.Summary.Target))
	}
	return diffs
}

// Compare checks a replay against the recorded rounds of the same session.
// Options must match round for round.
func Compare(recorded []ledger.Iteration, run Run) []string {
	var diffs []string
	for i, it := range recorded {
		if i >= len(run.Results) {
			diffs = append(diffs, fmt.Sprintf("round %d: recorded %v, not replayed", it.No, it.Options))
			continue
		}
		if got := run.Results[i].Options; !slices.Equal(got, it.Options) {
			diffs = append(diffs, fmt.Sprintf("round %d: recorded %v, replayed %v", it.No, it.Options, got))
		}
	}
	if len(run.Results) > len(recorded) {
		diffs = append(diffs, fmt.Sprintf("replay opened %d rounds, %d recorded", len(run.Results), len(recorded)))
	}
	return diffs
}

// #endregion verify
