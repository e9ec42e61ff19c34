package grpc

import (
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/wire"
)

// toStatus maps a service error to a gRPC status and logs it at the level
// its kind deserves.
func toStatus(log *slog.Logger, err error, attrs ...any) error {
	kind, msg := wire.Classify(err)
	attrs = append(attrs, slog.Any("err", err))
	switch kind {
	case wire.KindClash, wire.KindConflict, wire.KindSlotBooked:
		log.Info("request rejected", attrs...)
		return status.Error(codes.FailedPrecondition, msg)
	case wire.KindInvalidState:
		log.Warn("invalid state", attrs...)
		return status.Error(codes.FailedPrecondition, msg)
	case wire.KindNotFound:
		log.Info("not found", attrs...)
		return status.Error(codes.NotFound, msg)
	case wire.KindInvalid:
		log.Warn("invalid request", attrs...)
		return status.Error(codes.InvalidArgument, msg)
	case wire.KindUnauthenticated:
		return status.Error(codes.Unauthenticated, msg)
	case wire.KindForbidden:
		log.Warn("forbidden", attrs...)
		return status.Error(codes.PermissionDenied, msg)
	case wire.KindUnavailable:
		log.Error("storage failure", attrs...)
		return status.Error(codes.Unavailable, msg)
	default:
		log.Error("request failed", attrs...)
		return status.Error(codes.Internal, msg)
	}
}
