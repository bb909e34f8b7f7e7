package strategy

import (
	"math/rand/v2"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/pool"
)

// random draws k distinct remaining photos. The draw depends only on the
// session seed, the round number and the remaining set, so replaying a
// session reproduces it.
type random struct {
	cfg Config
}

func (s *random) Kind() Kind { return Random }

func (s *random) Select(in Input) (Selection, error) {
	k, err := bound(in)
	if err != nil {
		return Selection{}, err
	}
	rem := in.Pool.Remaining()
	rng := rand.New(rand.NewPCG(uint64(in.Seed), uint64(in.Round)))
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(rem)-i)
		rem[i], rem[j] = rem[j], rem[i]
	}
	return Selection{Options: rem[:k:k], Distribution: uniform(k)}, nil
}

// Narrow is a no-op: random narrows only by excluding shown photos.
func (s *random) Narrow(*pool.Pool, *matrix.Matrix, ledger.Iteration) error { return nil }

func (s *random) Estimate(in Input) string { return estimate(in, s.cfg.kernel()) }
