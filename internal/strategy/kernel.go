package strategy

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/pool"
)

// #region kernel

// Kernel turns a distance into a non-negative similarity weight.
type Kernel func(d float64) float64

// InverseDistance returns the kernel 1/(d+eps). Negative distances are
// treated as zero.
func InverseDistance(eps float64) Kernel {
	return func(d float64) float64 {
		if d < 0 {
			d = 0
		}
		return 1 / (d + eps)
	}
}

// normalize scales w in place to sum to 1, falling back to uniform when
// the mass is zero or not finite.
func normalize(w []float64) []float64 {
	if len(w) == 0 {
		return w
	}
	sum := floats.Sum(w)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range w {
			w[i] = 1 / float64(len(w))
		}
		return w
	}
	floats.Scale(1/sum, w)
	return w
}

func uniform(n int) []float64 {
	return normalize(make([]float64, n))
}

// #endregion

// #region helpers

// bound returns the number of options to offer.
func bound(in Input) (int, error) {
	n := in.Pool.Size()
	if n < 2 {
		return 0, fmt.Errorf("round %d: %d remaining: %w", in.Round, n, ErrInsufficientCandidates)
	}
	k := min(in.K, n)
	if k < 1 {
		k = 1
	}
	return k, nil
}

// latestAnswer returns the answer of the most recent answered round.
func latestAnswer(history []ledger.Iteration) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Answered() {
			return history[i].Answer
		}
	}
	return ""
}

// rankByDistance sorts ids by ascending distance in row. The sort is
// stable, so ids already in header order break ties by header order.
func rankByDistance(ids []string, m *matrix.Matrix, row []float64) {
	slices.SortStableFunc(ids, func(a, b string) int {
		ia, _ := m.Index(a)
		ib, _ := m.Index(b)
		switch da, db := row[ia], row[ib]; {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})
}

// posterior is the belief over every matrix photo after the answered
// rounds of history: a uniform prior reweighted by kernel(d(answer, x))
// and renormalized after each answer.
func posterior(m *matrix.Matrix, history []ledger.Iteration, kernel Kernel) []float64 {
	w := uniform(m.Len())
	for _, it := range history {
		if !it.Answered() {
			continue
		}
		row, err := m.Distances(it.Answer)
		if err != nil {
			continue
		}
		for j := range w {
			w[j] *= kernel(row[j])
		}
		normalize(w)
	}
	return w
}

// restrict returns the posterior mass of ids, renormalized.
func restrict(m *matrix.Matrix, post []float64, ids []string) []float64 {
	out := make([]float64, len(ids))
	for i, id := range ids {
		j, _ := m.Index(id)
		out[i] = post[j]
	}
	return normalize(out)
}

// estimate returns the remaining candidate with the highest posterior
// mass, or the latest answer once nothing remains.
func estimate(in Input, kernel Kernel) string {
	rem := in.Pool.Remaining()
	if len(rem) == 0 {
		return latestAnswer(in.History)
	}
	p := restrict(in.Matrix, posterior(in.Matrix, in.History, kernel), rem)
	return rem[floats.MaxIdx(p)]
}

// #endregion

// #region narrow

// narrowByDistance keeps the candidates closest to the answer of it:
// those within MaxDistance, at most ceil(KeepFraction*n) of them, and
// never fewer than the nearest one.
func narrowByDistance(cfg Config, p *pool.Pool, m *matrix.Matrix, it ledger.Iteration) error {
	if !it.Answered() {
		return nil
	}
	row, err := m.Distances(it.Answer)
	if err != nil {
		return fmt.Errorf("narrow round %d: %w", it.No, err)
	}
	rem := p.Remaining()
	if len(rem) == 0 {
		return nil
	}
	rankByDistance(rem, m, row)

	limit := max(int(math.Ceil(cfg.KeepFraction*float64(len(rem)))), 1)
	keep := 0
	for _, id := range rem {
		if keep == limit {
			break
		}
		j, _ := m.Index(id)
		if cfg.MaxDistance > 0 && row[j] > cfg.MaxDistance && keep > 0 {
			break
		}
		keep++
	}
	p.Eliminate(rem[keep:]...)
	return nil
}

// #endregion
