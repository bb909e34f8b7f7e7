package strategy

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/pool"
)

// entropy keeps a posterior over the remaining photos and offers the
// candidates whose "closer than the current estimate" signal carries the
// most information.
//
// For candidate c and current estimate t, q(c) is the posterior mass of
// photos x with d(c,x) < d(t,x). The gain of offering c is the binary
// entropy H(q(c)); the estimate itself scores zero.
type entropy struct {
	cfg Config
}

func (s *entropy) Kind() Kind { return Entropy }

func (s *entropy) Select(in Input) (Selection, error) {
	k, err := bound(in)
	if err != nil {
		return Selection{}, err
	}
	m := in.Matrix
	rem := in.Pool.Remaining()
	post := remainingPosterior(in, s.cfg)

	target := rem[floats.MaxIdx(post)]
	trow, _ := m.Distances(target)

	gains := make(map[string]float64, len(rem))
	for _, c := range rem {
		crow, _ := m.Distances(c)
		var q float64
		for i, x := range rem {
			j, _ := m.Index(x)
			if crow[j] < trow[j] {
				q += post[i]
			}
		}
		q = min(max(q, 0), 1)
		gains[c] = stat.Entropy([]float64{q, 1 - q})
	}

	ranked := slices.Clone(rem)
	slices.SortStableFunc(ranked, func(a, b string) int {
		switch ga, gb := gains[a], gains[b]; {
		case ga > gb:
			return -1
		case ga < gb:
			return 1
		}
		return 0
	})
	opts := ranked[:k:k]

	mass := make(map[string]float64, len(rem))
	for i, id := range rem {
		mass[id] = post[i]
	}
	dist := make([]float64, k)
	for i, id := range opts {
		dist[i] = mass[id]
	}
	return Selection{Options: opts, Distribution: normalize(dist)}, nil
}

func (s *entropy) Narrow(p *pool.Pool, m *matrix.Matrix, it ledger.Iteration) error {
	return narrowByDistance(s.cfg, p, m, it)
}

func (s *entropy) Estimate(in Input) string { return estimate(in, s.cfg.kernel()) }

// remainingPosterior returns the belief over the remaining photos of in,
// aligned with in.Pool.Remaining(). It sums to 1 whenever a candidate
// remains.
func remainingPosterior(in Input, cfg Config) []float64 {
	return restrict(in.Matrix, posterior(in.Matrix, in.History, cfg.kernel()), in.Pool.Remaining())
}
