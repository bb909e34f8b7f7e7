package session

import (
	"time"
)

// #region status
// Status is the lifecycle state of a retrieval session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusConverged Status = "converged"
	StatusExhausted Status = "exhausted"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConverged || s == StatusExhausted || s == StatusAborted
}
// #endregion status

// #region retrieval
const (
	DefaultMaxIteration      = 8
	DefaultMaxIterationFaces = 16
)

// Retrieval is one user's search for a target photo in a library.
// Target is set only when Status is converged. IteratorPointer is the
// number of answered rounds and the number of the open round. Artifact is
// the identity of the distance matrix the session was created against.
type Retrieval struct {
	ID                string
	UserID            string
	Remark            string
	Library           string
	Distance          string
	Artifact          string
	Strategy          string
	MaxIteration      int
	MaxIterationFaces int
	Status            Status
	Target            string
	IteratorPointer   int
	Seed              int64
	SeedPhoto         string
	Reason            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	EndedAt           time.Time
}
// #endregion retrieval

// #region request
// CreateRequest describes a new session. Zero limits take the defaults
// and an empty strategy selects random.
type CreateRequest struct {
	UserID            string
	Remark            string
	Library           string
	Distance          string
	Strategy          string
	MaxIteration      int
	MaxIterationFaces int
	SeedPhoto         string
}
// #endregion request
