package transport

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/danielpatrickdp/photo-retrieval/internal/catalog"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

const errorDomain = "photoretrieval"

// #region to-status
// codeFor maps engine errors to gRPC codes.
func codeFor(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return codes.NotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, catalog.ErrNotFound):
		return codes.NotFound, "NOT_FOUND"
	case errors.Is(err, catalog.ErrNotReady):
		return codes.Unavailable, "NOT_READY"
	case errors.Is(err, matrix.ErrCorruptArtifact):
		return codes.DataLoss, "CORRUPT_ARTIFACT"
	case errors.Is(err, matrix.ErrUnknownPhoto):
		return codes.InvalidArgument, "UNKNOWN_PHOTO"
	case errors.Is(err, session.ErrInvalidAnswer):
		return codes.InvalidArgument, "INVALID_ANSWER"
	case errors.Is(err, session.ErrInvalidRequest), errors.Is(err, strategy.ErrUnknownStrategy):
		return codes.InvalidArgument, "INVALID_REQUEST"
	case errors.Is(err, session.ErrStaleRound):
		return codes.FailedPrecondition, "STALE_ROUND"
	case errors.Is(err, session.ErrInvalidState):
		return codes.FailedPrecondition, "INVALID_STATE"
	case errors.Is(err, session.ErrAlreadyAnswered):
		return codes.AlreadyExists, "ALREADY_ANSWERED"
	case errors.Is(err, session.ErrDuplicateRound):
		return codes.Aborted, "DUPLICATE_ROUND"
	}
	return codes.Internal, "INTERNAL"
}

// toStatus converts an engine error to a gRPC status carrying an
// ErrorInfo with the reason and the error class.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, reason := codeFor(err)
	st := status.New(code, err.Error())
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   errorDomain,
		Metadata: map[string]string{"class": session.Classify(err).String()},
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}
// #endregion to-status

// #region from-status
// ErrorInfo extracts the reason and class of an error returned by the
// service. Both are empty for errors that did not come from the service.
func ErrorInfo(err error) (reason, class string) {
	st, ok := status.FromError(err)
	if !ok {
		return "", ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetReason(), info.GetMetadata()["class"]
		}
	}
	return "", ""
}
// #endregion from-status
