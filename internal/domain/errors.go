package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the wire code carried by the signaling error event.
type ErrorCode string

const (
	CodeEngineUnavailable ErrorCode = "EngineUnavailable"
	CodeEngineFailure     ErrorCode = "EngineFailure"
	CodeInvalidState      ErrorCode = "InvalidState"
	CodeNotFound          ErrorCode = "NotFound"
	CodeDuplicateResource ErrorCode = "DuplicateResource"
	CodeTimeout           ErrorCode = "Timeout"
	CodeBadRequest        ErrorCode = "BadRequest"
	CodeUnauthorized      ErrorCode = "Unauthorized"
	CodeCancelled         ErrorCode = "Cancelled"
	CodeInternal          ErrorCode = "Internal"
)

var (
	ErrEngineUnavailable = errors.New("no live media worker")
	ErrEngineFailure     = errors.New("media engine call failed")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateResource = errors.New("duplicate resource")
	ErrTimeout           = errors.New("timed out")
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
)

var (
	ErrRoomNotFound       = fmt.Errorf("room %w", ErrNotFound)
	ErrTransportNotFound  = fmt.Errorf("transport %w", ErrNotFound)
	ErrProducerNotFound   = fmt.Errorf("producer %w", ErrNotFound)
	ErrConsumerNotFound   = fmt.Errorf("consumer %w", ErrNotFound)
	ErrDuplicateTransport = fmt.Errorf("transport for direction exists: %w", ErrDuplicateResource)
	ErrAlreadyConsuming   = fmt.Errorf("already consuming producer: %w", ErrDuplicateResource)
	ErrNotJoined          = fmt.Errorf("participant not joined: %w", ErrInvalidState)
)

// CodeOf classifies err for the signaling error event.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEngineUnavailable):
		return CodeEngineUnavailable
	case errors.Is(err, ErrEngineFailure):
		return CodeEngineFailure
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrDuplicateResource):
		return CodeDuplicateResource
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// EngineError wraps a failed engine call so it classifies as EngineFailure while keeping
// the cause. Context errors are passed through untouched.
func EngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrInvalidState) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrEngineFailure, err)
}
