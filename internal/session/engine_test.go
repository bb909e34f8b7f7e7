package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/photo-retrieval/internal/catalog"
	"github.com/danielpatrickdp/photo-retrieval/internal/database"
	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/logging"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/storage"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

// #region harness
type memRecorder struct {
	mu     sync.Mutex
	events []logging.Transition
}

func (r *memRecorder) Record(_ context.Context, t logging.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
	return nil
}

func (r *memRecorder) names(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.events {
		if t.RetrievalID == id {
			out = append(out, t.Event)
		}
	}
	return out
}

type harness struct {
	cat    catalog.Writer
	reader catalog.Reader
	files  storage.FileStore
	deps   Deps
	rec    *memRecorder
	engine *Engine
}

// lineMatrix is n photos p1..pn with d(pi, pj) = |i-j|.
func lineMatrix(n int) ([]string, [][]float64) {
	photos := make([]string, n)
	rows := make([][]float64, n)
	for i := range photos {
		photos[i] = fmt.Sprintf("p%d", i+1)
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = math.Abs(float64(i - j))
		}
	}
	return photos, rows
}

func newHarness(t *testing.T, n int) *harness {
	t.Helper()
	mem := catalog.NewMemory()
	return buildHarness(t, n, mem, mem, NewMemoryRepository(), ledger.NewMemory(), &memRecorder{})
}

func buildHarness(t *testing.T, n int, w catalog.Writer, r catalog.Reader, repo Repository, l ledger.Ledger, rec Recorder) *harness {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{cat: w, reader: r, files: files}
	if mr, ok := rec.(*memRecorder); ok {
		h.rec = mr
	}

	h.setLibrary(t, n, catalog.StatusOK)
	photos, _ := lineMatrix(n)
	h.addDistance(t, "l2", lineBody(t, n), photos, catalog.StatusOK)

	registry, err := strategy.NewRegistry(strategy.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	h.deps = Deps{
		Catalog:  r,
		Matrices: matrix.NewStore(r, files, zerolog.Nop()),
		Registry: registry,
		Repo:     repo,
		Ledger:   l,
		Recorder: rec,
		Log:      zerolog.Nop(),
	}
	h.engine = NewEngine(DefaultConfig(), h.deps)
	return h
}

func (h *harness) addDistance(t *testing.T, name, body string, photos []string, status catalog.Status) {
	t.Helper()
	h.putDistance(t, name, name+"-v1", body, photos, status)
}

// putDistance writes the artifact of name and records it under hash.
func (h *harness) putDistance(t *testing.T, name, hash, body string, photos []string, status catalog.Status) {
	t.Helper()
	ctx := context.Background()
	w, err := h.files.Write(ctx, storage.DistancePath("faces", name))
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, body)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.cat.PutDistance(ctx, "faces", catalog.Distance{
		Name: name, Hash: hash, PhotosList: photos,
		Available: status == catalog.StatusOK, Progress: 100, Status: status,
	}); err != nil {
		t.Fatal(err)
	}
}

// setLibrary moves the faces library to status, as a reprocessing job does.
func (h *harness) setLibrary(t *testing.T, n int, status catalog.Status) {
	t.Helper()
	photos, _ := lineMatrix(n)
	if _, err := h.cat.PutLibrary(context.Background(), catalog.Library{
		Name: "faces", Available: status == catalog.StatusOK, Status: status, Photos: photos, Count: n,
	}); err != nil {
		t.Fatal(err)
	}
}

func lineBody(t *testing.T, n int) string {
	t.Helper()
	photos, rows := lineMatrix(n)
	m, err := matrix.New(photos, rows)
	if err != nil {
		t.Fatal(err)
	}
	var buf strings.Builder
	if err := m.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

// restart returns a fresh engine over the same durable state.
func (h *harness) restart() *Engine {
	h.deps.Matrices = matrix.NewStore(h.reader, h.files, zerolog.Nop())
	return NewEngine(DefaultConfig(), h.deps)
}

func (h *harness) started(t *testing.T, req CreateRequest) View {
	t.Helper()
	ctx := context.Background()
	if req.Library == "" {
		req.Library, req.Distance = "faces", "l2"
	}
	v, err := h.engine.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.Status != StatusPending {
		t.Fatalf("expected pending, got %s", v.Status)
	}
	v, err = h.engine.Start(ctx, v.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return v
}
// #endregion harness

// 1. most_similar seeded with p1 opens with the two nearest photos.
func TestScenarioMostSimilarFirstRound(t *testing.T) {
	h := newHarness(t, 4)
	v := h.started(t, CreateRequest{Strategy: "most_similar", SeedPhoto: "p1", MaxIterationFaces: 2})

	if v.Status != StatusActive || v.Round != 0 {
		t.Fatalf("expected active round 0, got %s round %d", v.Status, v.Round)
	}
	if len(v.Options) != 2 || v.Options[0] != "p2" || v.Options[1] != "p3" {
		t.Fatalf("expected [p2 p3], got %v", v.Options)
	}
	if v.Remaining != 2 {
		t.Errorf("expected 2 remaining after showing 2 of 4, got %d", v.Remaining)
	}
	if v.Shown != 2 || v.Eliminated != 0 || v.Total != 4 {
		t.Errorf("expected shown 2, eliminated 0 of 4, got %d, %d of %d", v.Shown, v.Eliminated, v.Total)
	}
	if v.Artifact != "l2-v1" || v.Detached {
		t.Errorf("expected session pinned to l2-v1, got %q detached=%v", v.Artifact, v.Detached)
	}
}

// 2. One answer with max_iteration=1 leaving 3 candidates exhausts the session.
func TestScenarioExhaustedAtLimit(t *testing.T) {
	h := newHarness(t, 5)
	v := h.started(t, CreateRequest{Strategy: "random", MaxIteration: 1, MaxIterationFaces: 2})

	v, err := h.engine.SubmitAnswer(context.Background(), v.ID, 0, v.Options[0])
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if v.Status != StatusExhausted {
		t.Fatalf("expected exhausted, got %s", v.Status)
	}
	if v.Target != "" {
		t.Errorf("exhausted session must not have a target, got %q", v.Target)
	}
	if v.Remaining != 3 || v.Round != 1 {
		t.Errorf("expected 3 remaining at round 1, got %d at %d", v.Remaining, v.Round)
	}
	if v.BestEstimate == "" || v.EndedAt == nil {
		t.Errorf("expected best estimate and end time, got %+v", v)
	}
}

// 3. An answer that narrows the pool to one photo converges on it.
func TestScenarioConverges(t *testing.T) {
	h := newHarness(t, 4)
	v := h.started(t, CreateRequest{Strategy: "most_similar", SeedPhoto: "p1", MaxIterationFaces: 2})

	v, err := h.engine.SubmitAnswer(context.Background(), v.ID, 0, "p2")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if v.Status != StatusConverged || v.Target != "p1" {
		t.Fatalf("expected converged on p1, got %s %q", v.Status, v.Target)
	}
	if v.Options != nil {
		t.Errorf("terminal session has no open round, got %v", v.Options)
	}

	want := []string{"created", "started", "round_opened", "answered", "converged"}
	if got := h.rec.names(v.ID); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions %v, want %v", got, want)
	}
}

// 4. Concurrent answers to round 2 advance the session exactly once.
func TestScenarioConcurrentSubmissions(t *testing.T) {
	h := newHarness(t, 40)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "random", MaxIterationFaces: 2})

	var err error
	for round := 0; round < 2; round++ {
		if v, err = h.engine.SubmitAnswer(ctx, v.ID, round, v.Options[0]); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
	}
	if v.Round != 2 {
		t.Fatalf("expected round 2 open, got %d", v.Round)
	}

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(answer string) {
			defer wg.Done()
			_, err := h.engine.SubmitAnswer(ctx, v.ID, 2, answer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyAnswered), errors.Is(err, ErrStaleRound):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(v.Options[i%2])
	}
	wg.Wait()

	if wins != 1 || rejected != callers-1 {
		t.Fatalf("expected 1 success and %d rejections, got %d and %d", callers-1, wins, rejected)
	}
	after, err := h.engine.Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Round != 3 {
		t.Errorf("pointer advanced to %d, want 3", after.Round)
	}
	hist, _ := h.engine.History(ctx, v.ID)
	if len(hist) != 4 || !hist[2].Answered() || hist[3].Answered() {
		t.Errorf("unexpected ledger after concurrent answers: %d rounds", len(hist))
	}
}

func TestSubmitRejectionsLeaveStateUnchanged(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "random", MaxIterationFaces: 3})

	if _, err := h.engine.SubmitAnswer(ctx, v.ID, 1, v.Options[0]); !errors.Is(err, ErrStaleRound) {
		t.Errorf("future round: expected ErrStaleRound, got %v", err)
	}
	if _, err := h.engine.SubmitAnswer(ctx, v.ID, 0, "p999"); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("foreign answer: expected ErrInvalidAnswer, got %v", err)
	}
	if _, err := h.engine.SubmitAnswer(ctx, "missing", 0, "p1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: expected ErrSessionNotFound, got %v", err)
	}

	same, err := h.engine.Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if same.Round != 0 || strings.Join(same.Options, ",") != strings.Join(v.Options, ",") {
		t.Fatalf("rejections changed the session: %+v", same)
	}

	if _, err := h.engine.SubmitAnswer(ctx, v.ID, 0, v.Options[1]); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.SubmitAnswer(ctx, v.ID, 0, v.Options[1]); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("replayed answer: expected ErrAlreadyAnswered, got %v", err)
	}
	if Classify(ErrAlreadyAnswered) != ClassSession {
		t.Error("already answered must classify as a session error")
	}
}

func TestCreateArtifactErrors(t *testing.T) {
	h := newHarness(t, 4)
	ctx := context.Background()
	photos, _ := lineMatrix(4)

	h.addDistance(t, "pending", "", photos, catalog.StatusProcessing)
	h.addDistance(t, "broken", "p1 p2 p3 p4\n0 1 2 3\n", photos, catalog.StatusOK)
	h.addDistance(t, "short", "p1 p2\n0 1\n1 0\n", photos[:2], catalog.StatusOK)

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"unknown library", CreateRequest{Library: "cats", Distance: "l2"}, catalog.ErrNotFound},
		{"unknown distance", CreateRequest{Library: "faces", Distance: "cosine"}, catalog.ErrNotFound},
		{"not ready", CreateRequest{Library: "faces", Distance: "pending"}, catalog.ErrNotReady},
		{"corrupt", CreateRequest{Library: "faces", Distance: "broken"}, matrix.ErrCorruptArtifact},
		{"stale count", CreateRequest{Library: "faces", Distance: "short"}, catalog.ErrNotReady},
		{"unknown seed", CreateRequest{Library: "faces", Distance: "l2", SeedPhoto: "p9"}, matrix.ErrUnknownPhoto},
		{"bad strategy", CreateRequest{Library: "faces", Distance: "l2", Strategy: "psychic"}, ErrInvalidRequest},
		{"bad limits", CreateRequest{Library: "faces", Distance: "l2", MaxIteration: -1}, ErrInvalidRequest},
		{"missing names", CreateRequest{}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Create(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if Classify(catalog.ErrNotReady) != ClassArtifact || Classify(matrix.ErrCorruptArtifact) != ClassArtifact {
		t.Error("artifact errors must classify as artifact")
	}
}

func TestAbort(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "entropy", MaxIterationFaces: 3})

	v, err := h.engine.Abort(ctx, v.ID, "user left")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if v.Status != StatusAborted || v.Reason != "user left" {
		t.Fatalf("expected aborted with reason, got %s %q", v.Status, v.Reason)
	}

	again, err := h.engine.Abort(ctx, v.ID, "twice")
	if err != nil || again.Status != StatusAborted || again.Reason != "user left" {
		t.Errorf("abort of ended session must be a no-op, got %+v, %v", again, err)
	}
	if _, err := h.engine.SubmitAnswer(ctx, v.ID, 0, "p1"); !errors.Is(err, ErrStaleRound) {
		t.Errorf("answer after abort: expected ErrStaleRound, got %v", err)
	}

	pending, err := h.engine.Create(ctx, CreateRequest{Library: "faces", Distance: "l2"})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := h.engine.Abort(ctx, pending.ID, ""); v.Status != StatusAborted {
		t.Errorf("pending session should abort, got %s", v.Status)
	}
	if _, err := h.engine.Start(ctx, pending.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("start after abort: expected ErrInvalidState, got %v", err)
	}
}

func TestAbortRacesSubmit(t *testing.T) {
	h := newHarness(t, 30)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "random", MaxIterationFaces: 2})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.engine.SubmitAnswer(ctx, v.ID, 0, v.Options[0])
	}()
	go func() {
		defer wg.Done()
		h.engine.Abort(ctx, v.ID, "race")
	}()
	wg.Wait()

	final, err := h.engine.Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusAborted {
		t.Fatalf("expected aborted, got %s", final.Status)
	}
	hist, _ := h.engine.History(ctx, v.ID)
	for i, it := range hist {
		if it.No != i {
			t.Errorf("ledger gap at %d: %d", i, it.No)
		}
	}
	if len(hist) > 2 || (len(hist) == 2 && !hist[0].Answered()) {
		t.Errorf("ledger inconsistent after race: %+v", hist)
	}
}

func TestSessionInvariantsUntilTerminal(t *testing.T) {
	for _, kind := range strategy.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t, 30)
			ctx := context.Background()
			v := h.started(t, CreateRequest{Strategy: string(kind), MaxIterationFaces: 3, MaxIteration: 6, SeedPhoto: "p15"})

			last := v.Round
			for !v.Status.Terminal() {
				var err error
				v, err = h.engine.SubmitAnswer(ctx, v.ID, v.Round, v.Options[len(v.Options)-1])
				if err != nil {
					t.Fatalf("round %d: %v", v.Round, err)
				}
				if v.Round < last || v.Round > v.MaxIteration {
					t.Fatalf("pointer moved from %d to %d (max %d)", last, v.Round, v.MaxIteration)
				}
				last = v.Round
			}

			hist, err := h.engine.History(ctx, v.ID)
			if err != nil {
				t.Fatal(err)
			}
			seen := map[string]int{}
			for i, it := range hist {
				if it.No != i {
					t.Errorf("history[%d].No = %d", i, it.No)
				}
				var sum float64
				for _, w := range it.Distribution {
					sum += w
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("round %d distribution sums to %v", i, sum)
				}
				for _, id := range it.Options {
					if prev, dup := seen[id]; dup {
						t.Errorf("%s offered in rounds %d and %d", id, prev, i)
					}
					seen[id] = i
				}
			}
			if (v.Status == StatusConverged) != (v.Target != "") {
				t.Errorf("target %q inconsistent with status %s", v.Target, v.Status)
			}
		})
	}
}

func TestInsufficientCandidatesExhausts(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "random"})
	if len(v.Options) != 2 {
		t.Fatalf("expected both photos offered, got %v", v.Options)
	}
	v, err := h.engine.SubmitAnswer(ctx, v.ID, 0, v.Options[0])
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusExhausted || !strings.Contains(v.Reason, "insufficient") {
		t.Errorf("expected exhausted on empty pool, got %s %q", v.Status, v.Reason)
	}

	single := newHarness(t, 1)
	v = single.started(t, CreateRequest{})
	if v.Status != StatusExhausted {
		t.Errorf("single-photo library cannot open a round, got %s", v.Status)
	}
}

func TestRestoreAfterRestart(t *testing.T) {
	h := newHarness(t, 20)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "most_similar", SeedPhoto: "p10", MaxIterationFaces: 3})
	v, err := h.engine.SubmitAnswer(ctx, v.ID, 0, v.Options[1])
	if err != nil {
		t.Fatal(err)
	}

	restarted := h.restart()
	got, err := restarted.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if got.Round != v.Round || got.Remaining != v.Remaining ||
		strings.Join(got.Options, ",") != strings.Join(v.Options, ",") {
		t.Fatalf("restored view differs:\n got %+v\nwant %+v", got, v)
	}

	next, err := restarted.SubmitAnswer(ctx, v.ID, 1, got.Options[0])
	if err != nil {
		t.Fatalf("SubmitAnswer after restart: %v", err)
	}
	if next.Round != 2 && !next.Status.Terminal() {
		t.Errorf("expected progress after restart, got %+v", next)
	}
	if _, err := restarted.Get(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRestoreReopensMissingRound(t *testing.T) {
	h := newHarness(t, 12)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "random", MaxIterationFaces: 2})

	// answer recorded in the ledger but the process died before opening
	// the next round or saving the record
	if err := h.deps.Ledger.RecordAnswer(ctx, v.ID, 0, v.Options[0], v.UpdatedAt); err != nil {
		t.Fatal(err)
	}

	got, err := h.restart().Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusActive || got.Round != 1 || len(got.Options) != 2 {
		t.Fatalf("expected reopened round 1, got %+v", got)
	}
	stored, _ := h.deps.Repo.Get(ctx, v.ID)
	if stored.IteratorPointer != 1 {
		t.Errorf("restored pointer not persisted: %d", stored.IteratorPointer)
	}
}

func TestSQLBackedSession(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "retrieval.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	cat, err := catalog.NewSQL(db)
	if err != nil {
		t.Fatal(err)
	}
	l, err := ledger.NewSQL(db)
	if err != nil {
		t.Fatal(err)
	}
	repo, err := NewSQLRepository(db)
	if err != nil {
		t.Fatal(err)
	}
	tlog, err := logging.NewTransitionLog(db)
	if err != nil {
		t.Fatal(err)
	}

	h := buildHarness(t, 4, cat, cat, repo, l, tlog)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "most_similar", SeedPhoto: "p1", MaxIterationFaces: 2, UserID: "u1", Remark: "test"})
	v, err = h.engine.SubmitAnswer(ctx, v.ID, 0, "p2")
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusConverged || v.Target != "p1" {
		t.Fatalf("expected converged on p1, got %s %q", v.Status, v.Target)
	}

	stored, err := repo.Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusConverged || stored.Target != "p1" || stored.UserID != "u1" ||
		stored.Artifact != "l2-v1" || stored.EndedAt.IsZero() {
		t.Errorf("unexpected stored record %+v", stored)
	}

	events, err := tlog.List(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 || events[4].Event != "converged" || events[4].Detail.Target != "p1" {
		t.Errorf("unexpected transitions %+v", events)
	}

	ids, err := repo.List(ctx, 10)
	if err != nil || len(ids) != 1 || ids[0] != v.ID {
		t.Errorf("List = %v, %v", ids, err)
	}

	// terminal sessions are served from durable state
	again, err := h.engine.Get(ctx, v.ID)
	if err != nil || again.Target != "p1" {
		t.Errorf("Get after convergence = %+v, %v", again, err)
	}
}

// A library that goes back to processing does not block sessions that
// already run on its distance artifact.
func TestRestoreWhileLibraryReprocessing(t *testing.T) {
	h := newHarness(t, 20)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "most_similar", SeedPhoto: "p10", MaxIterationFaces: 3})
	h.setLibrary(t, 20, catalog.StatusProcessing)

	restarted := h.restart()
	got, err := restarted.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get while reprocessing: %v", err)
	}
	if got.Status != StatusActive || got.Detached || strings.Join(got.Options, ",") != strings.Join(v.Options, ",") {
		t.Fatalf("expected the live round back, got %+v", got)
	}

	aborted, err := restarted.Abort(ctx, v.ID, "user left")
	if err != nil {
		t.Fatalf("Abort while reprocessing: %v", err)
	}
	if aborted.Status != StatusAborted || aborted.Reason != "user left" {
		t.Errorf("expected aborted, got %s %q", aborted.Status, aborted.Reason)
	}

	// new sessions still wait for the library
	if _, err := restarted.Create(ctx, CreateRequest{Library: "faces", Distance: "l2"}); !errors.Is(err, catalog.ErrNotReady) {
		t.Errorf("expected ErrNotReady for Create, got %v", err)
	}
}

// A session whose artifact cannot be read is served from its stored record
// and ledger: it can be viewed and aborted but not advanced.
func TestRestoreWithUnreadableArtifact(t *testing.T) {
	h := newHarness(t, 20)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "most_similar", SeedPhoto: "p10", MaxIterationFaces: 3})
	v, err := h.engine.SubmitAnswer(ctx, v.ID, 0, v.Options[1])
	if err != nil {
		t.Fatal(err)
	}

	// the job is rewriting the file under the same catalog record
	h.setLibrary(t, 20, catalog.StatusProcessing)
	w, err := h.files.Write(ctx, storage.DistancePath("faces", "l2"))
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "p1 p2\n0 1\n")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	restarted := h.restart()
	got, err := restarted.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get with unreadable artifact: %v", err)
	}
	if !got.Detached || got.Status != StatusActive || got.Round != 1 ||
		strings.Join(got.Options, ",") != strings.Join(v.Options, ",") {
		t.Fatalf("expected detached round 1, got %+v", got)
	}
	if _, err := restarted.SubmitAnswer(ctx, v.ID, 1, got.Options[0]); !errors.Is(err, matrix.ErrCorruptArtifact) {
		t.Errorf("expected ErrCorruptArtifact on submit, got %v", err)
	}
	if hist, _ := restarted.History(ctx, v.ID); len(hist) != 2 || hist[1].Answered() {
		t.Errorf("rejected submit must leave the ledger alone, got %+v", hist)
	}

	aborted, err := restarted.Abort(ctx, v.ID, "")
	if err != nil {
		t.Fatalf("Abort with unreadable artifact: %v", err)
	}
	if aborted.Status != StatusAborted {
		t.Errorf("expected aborted, got %s", aborted.Status)
	}
	stored, _ := h.deps.Repo.Get(ctx, v.ID)
	if stored.Status != StatusAborted || stored.IteratorPointer != 1 {
		t.Errorf("unexpected stored record %+v", stored)
	}
}

// A session never continues on a distance artifact other than the one it
// was created against.
func TestRestoreAfterArtifactChanged(t *testing.T) {
	h := newHarness(t, 20)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "most_similar", SeedPhoto: "p10", MaxIterationFaces: 3})
	v, err := h.engine.SubmitAnswer(ctx, v.ID, 0, v.Options[1])
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusActive {
		t.Fatalf("expected active after round 0, got %s", v.Status)
	}

	photos, _ := lineMatrix(20)
	h.putDistance(t, "l2", "l2-v2", lineBody(t, 20), photos, catalog.StatusOK)

	restarted := h.restart()
	got, err := restarted.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get after artifact change: %v", err)
	}
	if got.Status != StatusExhausted || !strings.Contains(got.Reason, "artifact changed") {
		t.Fatalf("expected exhausted on artifact change, got %s %q", got.Status, got.Reason)
	}
	if got.Artifact != "l2-v1" || got.Round != 1 || got.Options != nil {
		t.Errorf("unexpected view %+v", got)
	}
	if got.Remaining == 20 || got.Shown != 0 {
		t.Errorf("pool must not be rebuilt on the new artifact, got remaining %d shown %d", got.Remaining, got.Shown)
	}
	if _, err := restarted.SubmitAnswer(ctx, v.ID, 1, v.Options[0]); !errors.Is(err, ErrStaleRound) {
		t.Errorf("expected ErrStaleRound, got %v", err)
	}

	stored, _ := h.deps.Repo.Get(ctx, v.ID)
	if stored.Status != StatusExhausted || stored.EndedAt.IsZero() {
		t.Errorf("exhaustion not persisted: %+v", stored)
	}
	if got := h.rec.names(v.ID); got[len(got)-1] != "exhausted" {
		t.Errorf("expected exhausted transition last, got %v", got)
	}
}

func TestRestoreRejectsRepeatedOption(t *testing.T) {
	h := newHarness(t, 12)
	ctx := context.Background()
	v := h.started(t, CreateRequest{Strategy: "random", MaxIterationFaces: 2})

	if err := h.deps.Ledger.RecordAnswer(ctx, v.ID, 0, v.Options[0], v.UpdatedAt); err != nil {
		t.Fatal(err)
	}
	if err := h.deps.Ledger.Append(ctx, ledger.Iteration{
		RetrievalID: v.ID, No: 1, Options: v.Options, Distribution: v.Distribution,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.restart().Get(ctx, v.ID); err == nil || !strings.Contains(err.Error(), "offered before") {
		t.Errorf("expected repeated option to fail the restore, got %v", err)
	}
}

func TestEngineTagsComponentOnce(t *testing.T) {
	h := newHarness(t, 4)
	var buf strings.Builder
	h.deps.Log = zerolog.New(&buf)
	e := NewEngine(DefaultConfig(), h.deps)
	if _, err := e.Create(context.Background(), CreateRequest{Library: "faces", Distance: "l2"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("expected log output")
	}
	for _, line := range lines {
		if n := strings.Count(line, `"component"`); n != 1 || !strings.Contains(line, `"component":"session"`) {
			t.Errorf("expected one session component field, got %s", line)
		}
	}
}
