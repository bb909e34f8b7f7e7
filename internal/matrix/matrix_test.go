package matrix

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const fourPhotos = `p1 p2 p3 p4
0 1 2 3
1 0 1 2
2 1 0 1
3 2 1 0
`

func mustParse(t *testing.T, s string) *Matrix {
	t.Helper()
	m, err := Parse(strings.NewReader(s))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

func TestParseRowsInHeaderOrder(t *testing.T) {
	m := mustParse(t, fourPhotos)
	if m.Len() != 4 {
		t.Fatalf("expected 4 photos, got %d", m.Len())
	}

	row, err := m.Row("p2")
	if err != nil {
		t.Fatalf("Row: %v", err)
	}
	want := []Entry{{"p1", 1}, {"p2", 0}, {"p3", 1}, {"p4", 2}}
	if len(row) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(row))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("entry %d: expected %+v, got %+v", i, want[i], row[i])
		}
	}
}

func TestCellMatchesRow(t *testing.T) {
	m := mustParse(t, fourPhotos)
	for _, a := range m.Photos() {
		row, _ := m.Row(a)
		for _, b := range m.Photos() {
			j, _ := m.Index(b)
			c, err := m.Cell(a, b)
			if err != nil {
				t.Fatalf("Cell(%s,%s): %v", a, b, err)
			}
			if c != row[j].Distance {
				t.Errorf("Cell(%s,%s)=%v, row gives %v", a, b, c, row[j].Distance)
			}
		}
	}
}

func TestParseAsymmetric(t *testing.T) {
	m := mustParse(t, "a b\n0 5\n7 0\n")
	ab, _ := m.Cell("a", "b")
	ba, _ := m.Cell("b", "a")
	if ab != 5 || ba != 7 {
		t.Errorf("expected asymmetric 5/7, got %v/%v", ab, ba)
	}
}

func TestParseIgnoresBlankLines(t *testing.T) {
	m := mustParse(t, "a b\n\n0 1\n1 0\n\n\n")
	if m.Len() != 2 {
		t.Fatalf("expected 2 photos, got %d", m.Len())
	}
}

func TestParseCorrupt(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"blank header":    "\n0 1\n",
		"missing row":     "a b c\n0 1 2\n1 0 1\n",
		"extra row":       "a b\n0 1\n1 0\n2 2\n",
		"short row":       "a b c\n0 1 2\n1 0\n2 1 0\n",
		"long row":        "a b\n0 1 9\n1 0\n",
		"not a number":    "a b\n0 x\n1 0\n",
		"nan":             "a b\n0 NaN\n1 0\n",
		"duplicate photo": "a a\n0 1\n1 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(body))
			if !errors.Is(err, ErrCorruptArtifact) {
				t.Errorf("expected ErrCorruptArtifact, got %v", err)
			}
		})
	}
}

func TestUnknownPhoto(t *testing.T) {
	m := mustParse(t, fourPhotos)
	if _, err := m.Row("p9"); !errors.Is(err, ErrUnknownPhoto) {
		t.Errorf("Row: expected ErrUnknownPhoto, got %v", err)
	}
	if _, err := m.Cell("p1", "p9"); !errors.Is(err, ErrUnknownPhoto) {
		t.Errorf("Cell: expected ErrUnknownPhoto, got %v", err)
	}
	if m.Has("p9") {
		t.Error("Has should be false for unknown photo")
	}
}

func TestCheckOrder(t *testing.T) {
	m := mustParse(t, fourPhotos)
	if err := m.CheckOrder([]string{"p1", "p2", "p3", "p4"}); err != nil {
		t.Errorf("expected matching order, got %v", err)
	}
	if err := m.CheckOrder([]string{"p2", "p1", "p3", "p4"}); !errors.Is(err, ErrCorruptArtifact) {
		t.Errorf("expected ErrCorruptArtifact for reordered list, got %v", err)
	}
	if err := m.CheckOrder([]string{"p1", "p2", "p3"}); !errors.Is(err, ErrCorruptArtifact) {
		t.Errorf("expected ErrCorruptArtifact for short list, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New([]string{"a", "b"}, [][]float64{{0, 1}}); !errors.Is(err, ErrCorruptArtifact) {
		t.Errorf("expected ErrCorruptArtifact, got %v", err)
	}
	m, err := New([]string{"a", "b"}, [][]float64{{0, 1}, {1, 0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != "a b\n0 1\n1 0\n" {
		t.Errorf("unexpected artifact %q", buf.String())
	}
}

func TestPhotosIsACopy(t *testing.T) {
	m := mustParse(t, fourPhotos)
	p := m.Photos()
	p[0] = "mutated"
	if m.Photo(0) != "p1" {
		t.Error("Photos must not expose internal header")
	}
}
