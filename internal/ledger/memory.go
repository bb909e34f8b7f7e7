package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Ledger.
type Memory struct {
	mu     sync.RWMutex
	rounds map[string][]Iteration
}

func NewMemory() *Memory {
	return &Memory{rounds: make(map[string][]Iteration)}
}

func (m *Memory) Append(_ context.Context, it Iteration) error {
	if err := it.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rounds := m.rounds[it.RetrievalID]
	switch {
	case it.No < len(rounds):
		return fmt.Errorf("append %s/%d: %w", it.RetrievalID, it.No, ErrDuplicateRound)
	case it.No != len(rounds):
		return fmt.Errorf("append %s/%d after %d rounds: %w", it.RetrievalID, it.No, len(rounds), ErrRoundGap)
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	m.rounds[it.RetrievalID] = append(rounds, it.clone())
	return nil
}

func (m *Memory) RecordAnswer(_ context.Context, retrievalID string, no int, answer string, at time.Time) error {
	if answer == "" {
		return fmt.Errorf("answer %s/%d: empty answer: %w", retrievalID, no, ErrInvalidRound)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rounds := m.rounds[retrievalID]
	if no < 0 || no >= len(rounds) {
		return fmt.Errorf("answer %s/%d: %w", retrievalID, no, ErrRoundNotFound)
	}
	if rounds[no].Answered() {
		return fmt.Errorf("answer %s/%d: %w", retrievalID, no, ErrAlreadyAnswered)
	}
	rounds[no].Answer = answer
	rounds[no].AnsweredAt = at
	return nil
}

func (m *Memory) History(_ context.Context, retrievalID string) ([]Iteration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds := m.rounds[retrievalID]
	out := make([]Iteration, len(rounds))
	for i, it := range rounds {
		out[i] = it.clone()
	}
	return out, nil
}

var _ Ledger = (*Memory)(nil)
