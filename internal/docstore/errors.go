package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/kehilla/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrWatcherStopped is returned by Watcher.Next after Stop.
var ErrWatcherStopped = errors.New("docstore: watcher stopped")

func NotFound(ref DocRef) error {
	return status.Errorf(codes.NotFound, "document %s not found", ref)
}

func AlreadyExists(ref DocRef) error {
	return status.Errorf(codes.AlreadyExists, "document %s already exists", ref)
}

func Aborted(attempts int, cause error) error {
	return status.Errorf(codes.Aborted, "transaction aborted after %d attempts: %v", attempts, cause)
}

func Unavailable(err error) error {
	return status.Errorf(codes.Unavailable, "store unavailable: %v", err)
}

func InvalidArgument(err error) error {
	return status.Errorf(codes.InvalidArgument, "invalid argument: %v", err)
}

func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func IsAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

func IsInvalidArgument(err error) bool {
	return status.Code(err) == codes.InvalidArgument
}

func IsAborted(err error) bool {
	return status.Code(err) == codes.Aborted
}

// Classify maps store and context errors onto the common taxonomy. Values
// that already are *common.Error pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var ce *common.Error
	if errors.As(err, &ce) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return common.ErrNetwork.WithCause(err)
	}

	switch status.Code(err) {
	case codes.NotFound:
		return common.ErrNotFound.WithCause(err)
	case codes.AlreadyExists:
		return common.ErrAlreadyExists.WithCause(err)
	case codes.Aborted:
		return common.ErrContention.WithCause(err)
	case codes.InvalidArgument:
		return common.ErrInvalidInput.WithCause(err)
	default:
		return common.ErrNetwork.WithCause(fmt.Errorf("store: %w", err))
	}
}
