// Package ledger records the rounds of retrieval sessions. Rounds are
// append-only and numbered from 0 without gaps; the answer of a round is
// written exactly once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrDuplicateRound  = errors.New("ledger: duplicate round")
	ErrRoundGap        = errors.New("ledger: round out of sequence")
	ErrRoundNotFound   = errors.New("ledger: round not found")
	ErrAlreadyAnswered = errors.New("ledger: round already answered")
	ErrInvalidRound    = errors.New("ledger: invalid round")
)

// #region iteration
// Iteration is one round: the options offered, the distribution the
// strategy used to choose them, and the answer once given.
type Iteration struct {
	RetrievalID  string
	No           int
	Distribution []float64
	Options      []string
	Answer       string
	CreatedAt    time.Time
	AnsweredAt   time.Time
}

// Answered reports whether the round has an answer.
func (it Iteration) Answered() bool { return it.Answer != "" }

// HasOption reports whether id was offered in the round.
func (it Iteration) HasOption(id string) bool { return slices.Contains(it.Options, id) }

func (it Iteration) validate() error {
	if it.RetrievalID == "" {
		return fmt.Errorf("empty retrieval id: %w", ErrInvalidRound)
	}
	if len(it.Options) == 0 {
		return fmt.Errorf("round %d has no options: %w", it.No, ErrInvalidRound)
	}
	if len(it.Distribution) != len(it.Options) {
		return fmt.Errorf("round %d: %d weights for %d options: %w",
			it.No, len(it.Distribution), len(it.Options), ErrInvalidRound)
	}
	return nil
}

func (it Iteration) clone() Iteration {
	it.Options = slices.Clone(it.Options)
	it.Distribution = slices.Clone(it.Distribution)
	return it
}
// #endregion iteration

// #region interface
// Ledger is the durable round log.
type Ledger interface {
	// Append adds the next round of a retrieval. It fails with
	// ErrDuplicateRound if the round exists and ErrRoundGap if it does not
	// directly follow the last one.
	Append(ctx context.Context, it Iteration) error
	// RecordAnswer sets the answer of a round once.
	RecordAnswer(ctx context.Context, retrievalID string, no int, answer string, at time.Time) error
	// History returns the rounds of a retrieval by ascending number.
	History(ctx context.Context, retrievalID string) ([]Iteration, error)
}
// #endregion interface
