package pool

import (
	"slices"
	"testing"
)

func TestNewPool(t *testing.T) {
	p := New([]string{"a", "b", "c", "b"})
	if p.Size() != 3 || p.Total() != 3 {
		t.Fatalf("expected 3 candidates, got size=%d total=%d", p.Size(), p.Total())
	}
	if got := p.Remaining(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected remaining %v", got)
	}
}

func TestExcludeIdempotent(t *testing.T) {
	p := New([]string{"a", "b", "c", "d"})
	p.Exclude("b", "d")
	p.Exclude("b", "zzz")

	if p.Size() != 2 {
		t.Fatalf("expected 2 remaining, got %d", p.Size())
	}
	if got := p.Remaining(); !slices.Equal(got, []string{"a", "c"}) {
		t.Errorf("unexpected remaining %v", got)
	}
	if !p.WasShown("b") || p.Contains("b") {
		t.Error("b should be shown and no longer a candidate")
	}
	if got := p.Shown(); !slices.Equal(got, []string{"b", "d"}) {
		t.Errorf("unexpected shown %v", got)
	}
}

func TestEliminate(t *testing.T) {
	p := New([]string{"a", "b", "c", "d", "e"})
	p.Exclude("a")
	p.Eliminate("d", "b", "a")
	if got := p.Remaining(); !slices.Equal(got, []string{"c", "e"}) {
		t.Fatalf("unexpected remaining %v", got)
	}
	if got := p.Eliminated(); !slices.Equal(got, []string{"a", "b", "d"}) {
		t.Errorf("unexpected eliminated %v", got)
	}

	// a photo both shown and eliminated is counted once
	p.Eliminate("e", "e")
	p.Exclude("e")
	if p.Size() != 1 {
		t.Errorf("expected 1 remaining, got %d", p.Size())
	}
}

func TestExhaustedPoolIsEmpty(t *testing.T) {
	p := New([]string{"a", "b"})
	p.Exclude("a", "b")
	if p.Size() != 0 {
		t.Fatalf("expected empty pool, got %d", p.Size())
	}
	if got := p.Remaining(); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestCloneIndependent(t *testing.T) {
	p := New([]string{"a", "b", "c"})
	c := p.Clone()
	c.Exclude("a")
	c.Eliminate("b")

	if p.Size() != 3 {
		t.Errorf("original mutated: size %d", p.Size())
	}
	if c.Size() != 1 || !c.Contains("c") {
		t.Errorf("clone state wrong: %v", c.Remaining())
	}
}
