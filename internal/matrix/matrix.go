// Package matrix parses and serves precomputed pairwise distance matrices.
//
// The artifact format is one header line listing photo ids, followed by one
// line of whitespace-separated distances per photo in header order. A parsed
// Matrix is immutable and safe to share between goroutines.
package matrix

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// #region errors
var (
	// ErrCorruptArtifact is returned when the header and rows disagree.
	ErrCorruptArtifact = errors.New("matrix: corrupt artifact")
	// ErrUnknownPhoto is returned for lookups of ids absent from the header.
	ErrUnknownPhoto = errors.New("matrix: unknown photo")
)
// #endregion errors

// maxLineBytes bounds a single artifact line.
const maxLineBytes = 256 << 20

// #region matrix
// Matrix is an N×N distance table indexed by photo id.
type Matrix struct {
	photos   []string
	index    map[string]int
	rows     [][]float64
	identity string
}

// Entry is one cell of a row.
type Entry struct {
	Photo    string
	Distance float64
}

// New builds a Matrix from already-split data, applying the same checks as Parse.
func New(photos []string, rows [][]float64) (*Matrix, error) {
	m, err := newHeader(photos)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(photos) {
		return nil, fmt.Errorf("%d rows, header has %d: %w", len(rows), len(photos), ErrCorruptArtifact)
	}
	for i, row := range rows {
		if len(row) != len(photos) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d: %w", i+1, len(row), len(photos), ErrCorruptArtifact)
		}
		m.rows = append(m.rows, slices.Clone(row))
	}
	return m, nil
}

func newHeader(photos []string) (*Matrix, error) {
	if len(photos) == 0 {
		return nil, fmt.Errorf("empty header: %w", ErrCorruptArtifact)
	}
	m := &Matrix{
		photos: slices.Clone(photos),
		index:  make(map[string]int, len(photos)),
		rows:   make([][]float64, 0, len(photos)),
	}
	for i, p := range photos {
		if _, dup := m.index[p]; dup {
			return nil, fmt.Errorf("duplicate photo %q in header: %w", p, ErrCorruptArtifact)
		}
		m.index[p] = i
	}
	return m, nil
}
// #endregion matrix

// #region parse
// Parse reads a distance matrix artifact. Blank lines are ignored.
func Parse(r io.Reader) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read header: %w", scanErr(err))
		}
		return nil, fmt.Errorf("empty artifact: %w", ErrCorruptArtifact)
	}
	m, err := newHeader(strings.Fields(sc.Text()))
	if err != nil {
		return nil, err
	}
	n := len(m.photos)

	line := 1
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(m.rows) == n {
			return nil, fmt.Errorf("line %d: more than %d rows: %w", line, n, ErrCorruptArtifact)
		}
		if len(fields) != n {
			return nil, fmt.Errorf("line %d has %d fields, header has %d: %w", line, len(fields), n, ErrCorruptArtifact)
		}
		row := make([]float64, n)
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || math.IsNaN(v) {
				return nil, fmt.Errorf("line %d field %d %q: %w", line, j+1, f, ErrCorruptArtifact)
			}
			row[j] = v
		}
		m.rows = append(m.rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", scanErr(err))
	}
	if len(m.rows) != n {
		return nil, fmt.Errorf("%d rows, header has %d: %w", len(m.rows), n, ErrCorruptArtifact)
	}
	return m, nil
}

func scanErr(err error) error {
	if errors.Is(err, bufio.ErrTooLong) {
		return fmt.Errorf("%v: %w", err, ErrCorruptArtifact)
	}
	return err
}

// Write serializes m in the artifact format.
func (m *Matrix) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(m.photos, " "))
	bw.WriteByte('\n')
	for _, row := range m.rows {
		for j, v := range row {
			if j > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
// #endregion parse

// #region lookups
// Identity is the artifact identity this matrix was loaded for.
func (m *Matrix) Identity() string { return m.identity }

// Len is the matrix dimension N.
func (m *Matrix) Len() int { return len(m.photos) }

// Photos returns the header order.
func (m *Matrix) Photos() []string { return slices.Clone(m.photos) }

// Photo returns the id at header position i.
func (m *Matrix) Photo(i int) string { return m.photos[i] }

// Has reports whether id is in the header.
func (m *Matrix) Has(id string) bool {
	_, ok := m.index[id]
	return ok
}

// Index returns the header position of id.
func (m *Matrix) Index(id string) (int, error) {
	i, ok := m.index[id]
	if !ok {
		return 0, fmt.Errorf("photo %q: %w", id, ErrUnknownPhoto)
	}
	return i, nil
}

// Distances returns the raw row of id in header order. The slice is shared
// and must not be modified.
func (m *Matrix) Distances(id string) ([]float64, error) {
	i, err := m.Index(id)
	if err != nil {
		return nil, err
	}
	return m.rows[i], nil
}

// Row returns the full row of id as (photo, distance) pairs in header order.
func (m *Matrix) Row(id string) ([]Entry, error) {
	row, err := m.Distances(id)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(row))
	for j, d := range row {
		out[j] = Entry{Photo: m.photos[j], Distance: d}
	}
	return out, nil
}

// At returns the distance between header positions i and j.
func (m *Matrix) At(i, j int) float64 { return m.rows[i][j] }

// Cell returns the distance from a to b.
func (m *Matrix) Cell(a, b string) (float64, error) {
	row, err := m.Distances(a)
	if err != nil {
		return 0, err
	}
	j, err := m.Index(b)
	if err != nil {
		return 0, err
	}
	return row[j], nil
}

// CheckOrder verifies the header matches the catalog's photos_list.
func (m *Matrix) CheckOrder(photosList []string) error {
	if len(photosList) != len(m.photos) {
		return fmt.Errorf("photos_list has %d entries, header has %d: %w", len(photosList), len(m.photos), ErrCorruptArtifact)
	}
	for i, p := range photosList {
		if m.photos[i] != p {
			return fmt.Errorf("header position %d is %q, photos_list has %q: %w", i, m.photos[i], p, ErrCorruptArtifact)
		}
	}
	return nil
}
// #endregion lookups
