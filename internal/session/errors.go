package session

import (
	"errors"

	"github.com/danielpatrickdp/photo-retrieval/internal/catalog"
	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrStaleRound      = errors.New("session: stale round")
	ErrInvalidAnswer   = errors.New("session: answer is not an option of the round")
	ErrInvalidRequest  = errors.New("session: invalid request")
	ErrInvalidState    = errors.New("session: invalid state for operation")

	// ErrArtifactChanged reports that the distance matrix a session was
	// created against has been replaced in the catalog.
	ErrArtifactChanged = errors.New("session: distance artifact changed")

	// Rejections raised by the ledger keep their identity.
	ErrAlreadyAnswered = ledger.ErrAlreadyAnswered
	ErrDuplicateRound  = ledger.ErrDuplicateRound
)

// #region classify
// Class separates artifact problems a client may wait out from session
// logic rejections and internal faults.
type Class int

const (
	ClassInternal Class = iota
	ClassArtifact
	ClassSession
)

func (c Class) String() string {
	switch c {
	case ClassArtifact:
		return "artifact"
	case ClassSession:
		return "session"
	default:
		return "internal"
	}
}

// Classify returns the class of err.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrNotReady),
		errors.Is(err, matrix.ErrCorruptArtifact),
		errors.Is(err, matrix.ErrUnknownPhoto),
		errors.Is(err, ErrArtifactChanged):
		return ClassArtifact
	case errors.Is(err, ErrStaleRound),
		errors.Is(err, ErrAlreadyAnswered),
		errors.Is(err, ErrDuplicateRound),
		errors.Is(err, ErrInvalidAnswer),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, strategy.ErrUnknownStrategy):
		return ClassSession
	}
	return ClassInternal
}

// Reason is a short metric label for a rejection.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrStaleRound):
		return "stale_round"
	case errors.Is(err, ErrAlreadyAnswered):
		return "already_answered"
	case errors.Is(err, ErrDuplicateRound):
		return "duplicate_round"
	case errors.Is(err, ErrInvalidAnswer):
		return "invalid_answer"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	}
	return Classify(err).String()
}
// #endregion classify
