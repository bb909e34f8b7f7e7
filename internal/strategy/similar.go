package strategy

import (
	"fmt"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/pool"
)

// mostSimilar offers the remaining photos nearest to the reference: the
// latest answer, else the session seed photo, else the first remaining
// photo. The reference itself is never offered.
type mostSimilar struct {
	cfg Config
}

func (s *mostSimilar) Kind() Kind { return MostSimilar }

func (s *mostSimilar) reference(in Input) string {
	if ans := latestAnswer(in.History); ans != "" {
		return ans
	}
	if in.Reference != "" && in.Matrix.Has(in.Reference) {
		return in.Reference
	}
	return ""
}

func (s *mostSimilar) Select(in Input) (Selection, error) {
	k, err := bound(in)
	if err != nil {
		return Selection{}, err
	}
	rem := in.Pool.Remaining()
	ref := s.reference(in)
	if ref == "" {
		ref = rem[0]
	}
	row, err := in.Matrix.Distances(ref)
	if err != nil {
		return Selection{}, fmt.Errorf("reference %s: %w", ref, err)
	}

	cands := make([]string, 0, len(rem))
	for _, id := range rem {
		if id != ref {
			cands = append(cands, id)
		}
	}
	rankByDistance(cands, in.Matrix, row)
	opts := cands[:min(k, len(cands)):min(k, len(cands))]

	kernel := s.cfg.kernel()
	dist := make([]float64, len(opts))
	for i, id := range opts {
		j, _ := in.Matrix.Index(id)
		dist[i] = kernel(row[j])
	}
	return Selection{Options: opts, Distribution: normalize(dist)}, nil
}

func (s *mostSimilar) Narrow(p *pool.Pool, m *matrix.Matrix, it ledger.Iteration) error {
	return narrowByDistance(s.cfg, p, m, it)
}

func (s *mostSimilar) Estimate(in Input) string { return estimate(in, s.cfg.kernel()) }
