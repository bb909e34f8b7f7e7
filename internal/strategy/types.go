package strategy

// #region imports
import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/pool"
)

// #endregion

var (
	ErrInsufficientCandidates = errors.New("strategy: insufficient candidates")
	ErrUnknownStrategy        = errors.New("strategy: unknown strategy")
)

// #region kind

// Kind names a selection strategy.
type Kind string

const (
	Random      Kind = "random"
	MostSimilar Kind = "most_similar"
	Entropy     Kind = "entropy"
)

// Kinds returns every strategy kind.
func Kinds() []Kind {
	return []Kind{Random, MostSimilar, Entropy}
}

// ParseKind resolves a strategy name. The empty name selects Random.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return Random, nil
	}
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownStrategy)
}

// #endregion

// #region input

// Input is everything a strategy may look at to pick a round.
type Input struct {
	Pool    *pool.Pool
	Matrix  *matrix.Matrix
	History []ledger.Iteration
	// K is the number of options wanted; it is bounded by the pool size.
	K     int
	Round int
	Seed  int64
	// Reference is the session seed photo, used before any answer exists.
	Reference string
}

// Selection is the outcome of Select. Distribution is aligned with
// Options and sums to 1.
type Selection struct {
	Options      []string
	Distribution []float64
}

// #endregion

// #region strategy

// Strategy picks the options of a round and narrows the pool after an
// answer.
type Strategy interface {
	Kind() Kind
	Select(in Input) (Selection, error)
	// Narrow rules candidates out of p after round it was answered. Shown
	// photos have already been excluded by the caller.
	Narrow(p *pool.Pool, m *matrix.Matrix, it ledger.Iteration) error
	// Estimate returns the most likely target given in. It is a hint only.
	Estimate(in Input) string
}

// #endregion

// #region config

// Config tunes narrowing and the similarity kernel.
type Config struct {
	// KeepFraction is the share of remaining candidates kept after an
	// answer, rounded up.
	KeepFraction float64
	// MaxDistance drops candidates farther than this from the answer.
	// Zero disables the limit.
	MaxDistance float64
	// Epsilon is added to distances by the default inverse kernel.
	Epsilon float64
	// Kernel overrides the default inverse distance kernel.
	Kernel Kernel
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{KeepFraction: 0.5, Epsilon: 1e-3}
}

func (c Config) kernel() Kernel {
	if c.Kernel != nil {
		return c.Kernel
	}
	eps := c.Epsilon
	if eps <= 0 {
		eps = 1e-3
	}
	return InverseDistance(eps)
}

// Validate checks the narrowing bounds.
func (c Config) Validate() error {
	if c.KeepFraction <= 0 || c.KeepFraction > 1 {
		return fmt.Errorf("keep fraction %v outside (0,1]", c.KeepFraction)
	}
	if c.MaxDistance < 0 {
		return fmt.Errorf("max distance %v is negative", c.MaxDistance)
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("epsilon %v is negative", c.Epsilon)
	}
	return nil
}

// #endregion
