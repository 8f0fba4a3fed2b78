package api

import (
	"errors"
	"net/http"

	"mockpair/internal/domain"
	"mockpair/internal/matching"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	msgUnavailable = "temporarily unavailable, please retry"
	msgInternal    = "internal error"
	msgUnknownUser = "unknown user"
	msgMismatch    = "tickets do not identify a confirmed match"
)

// httpStatus maps a service error to a status code and a message that is
// safe to show the caller.
func httpStatus(err error) (int, string) {
	switch {
	case matching.IsInvalidRequest(err):
		return http.StatusBadRequest, err.Error()
	case matching.IsUnknownUser(err):
		return http.StatusNotFound, msgUnknownUser
	case errors.Is(err, matching.ErrCancelMismatch):
		return http.StatusConflict, msgMismatch
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable, msgUnavailable
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func grpcStatus(err error) error {
	switch {
	case matching.IsInvalidRequest(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case matching.IsUnknownUser(err):
		return status.Error(codes.NotFound, msgUnknownUser)
	case errors.Is(err, matching.ErrCancelMismatch):
		return status.Error(codes.FailedPrecondition, msgMismatch)
	case errors.Is(err, domain.ErrTransient):
		return status.Error(codes.Unavailable, msgUnavailable)
	default:
		return status.Error(codes.Internal, msgInternal)
	}
}
