package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/photo-retrieval/internal/database"
)

func tempSQL(t *testing.T) *SQL {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	l, err := NewSQL(db)
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	return l
}

func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	return map[string]Ledger{
		"memory": NewMemory(),
		"sqlite": tempSQL(t),
	}
}

func round(id string, no int, opts ...string) Iteration {
	dist := make([]float64, len(opts))
	for i := range dist {
		dist[i] = 1 / float64(len(opts))
	}
	return Iteration{RetrievalID: id, No: no, Options: opts, Distribution: dist}
}

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				if err := l.Append(ctx, round("r1", i, "a", "b")); err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
			}
			if err := l.Append(ctx, round("r2", 0, "c", "d")); err != nil {
				t.Fatalf("Append r2: %v", err)
			}

			hist, err := l.History(ctx, "r1")
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(hist) != 3 {
				t.Fatalf("expected 3 rounds, got %d", len(hist))
			}
			for i, it := range hist {
				if it.No != i {
					t.Errorf("history[%d].No = %d", i, it.No)
				}
				if it.Answered() {
					t.Errorf("round %d should be unanswered", i)
				}
				if len(it.Distribution) != 2 || it.Distribution[0] != 0.5 {
					t.Errorf("round %d: distribution not stored verbatim: %v", i, it.Distribution)
				}
			}

			empty, err := l.History(ctx, "nobody")
			if err != nil || len(empty) != 0 {
				t.Errorf("expected empty history, got %v, %v", empty, err)
			}
		})
	}
}

func TestAppendSequencing(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Append(ctx, round("r1", 0, "a", "b")); err != nil {
				t.Fatal(err)
			}
			if err := l.Append(ctx, round("r1", 0, "c", "d")); !errors.Is(err, ErrDuplicateRound) {
				t.Errorf("expected ErrDuplicateRound, got %v", err)
			}
			if err := l.Append(ctx, round("r1", 2, "c", "d")); !errors.Is(err, ErrRoundGap) {
				t.Errorf("expected ErrRoundGap, got %v", err)
			}
			if err := l.Append(ctx, Iteration{RetrievalID: "r1", No: 1, Options: []string{"a"}}); !errors.Is(err, ErrInvalidRound) {
				t.Errorf("expected ErrInvalidRound for missing distribution, got %v", err)
			}

			hist, _ := l.History(ctx, "r1")
			if len(hist) != 1 || hist[0].Options[0] != "a" {
				t.Errorf("rejected appends must not change history: %+v", hist)
			}
		})
	}
}

func TestRecordAnswerOnce(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Append(ctx, round("r1", 0, "a", "b")); err != nil {
				t.Fatal(err)
			}
			if err := l.RecordAnswer(ctx, "r1", 0, "b", at); err != nil {
				t.Fatalf("RecordAnswer: %v", err)
			}
			if err := l.RecordAnswer(ctx, "r1", 0, "a", at); !errors.Is(err, ErrAlreadyAnswered) {
				t.Errorf("expected ErrAlreadyAnswered, got %v", err)
			}
			if err := l.RecordAnswer(ctx, "r1", 5, "a", at); !errors.Is(err, ErrRoundNotFound) {
				t.Errorf("expected ErrRoundNotFound, got %v", err)
			}
			if err := l.RecordAnswer(ctx, "r1", 0, "", at); !errors.Is(err, ErrInvalidRound) {
				t.Errorf("expected ErrInvalidRound for empty answer, got %v", err)
			}

			hist, _ := l.History(ctx, "r1")
			if hist[0].Answer != "b" {
				t.Errorf("expected answer b, got %q", hist[0].Answer)
			}
			if !hist[0].AnsweredAt.Equal(at) {
				t.Errorf("expected answered_at %v, got %v", at, hist[0].AnsweredAt)
			}
		})
	}
}

func TestConcurrentAnswerSingleWinner(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Append(ctx, round("r1", 0, "a", "b")); err != nil {
				t.Fatal(err)
			}
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := l.RecordAnswer(ctx, "r1", 0, "a", time.Now())
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					} else if !errors.Is(err, ErrAlreadyAnswered) {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				t.Errorf("expected exactly one winner, got %d", wins)
			}
		})
	}
}

func TestHistoryIsACopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	if err := l.Append(ctx, round("r1", 0, "a", "b")); err != nil {
		t.Fatal(err)
	}
	hist, _ := l.History(ctx, "r1")
	hist[0].Options[0] = "mutated"
	again, _ := l.History(ctx, "r1")
	if again[0].Options[0] != "a" {
		t.Error("History must not expose stored slices")
	}
}
