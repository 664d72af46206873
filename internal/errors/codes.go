package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for queue operations (spec §7).
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Rejections a caller can retry, shed load for, or evict a peer over.
	ErrCodeQueueFull      ErrorCode = 1000
	ErrCodeDuplicateOpID  ErrorCode = 1001
	ErrCodeNotFound       ErrorCode = 1002
	ErrCodeUnknownPeer    ErrorCode = 1003
	ErrCodeQueueClosed    ErrorCode = 1004
	ErrCodeAlreadyTracked ErrorCode = 1005

	ErrCodeInternal ErrorCode = 2000
)

// QueueError is a structured error with a code and optional context,
// carrying the five kinds spec §7 names.
type QueueError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *QueueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *QueueError) Unwrap() error { return e.Cause }

// ToGRPCStatus converts a QueueError to the gRPC status a surrounding RPC
// layer would return to its own caller.
func (e *QueueError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *QueueError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeQueueFull:
		return codes.ResourceExhausted
	case ErrCodeDuplicateOpID, ErrCodeAlreadyTracked:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeUnknownPeer:
		return codes.FailedPrecondition
	case ErrCodeQueueClosed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func NewQueueError(code ErrorCode, message string, cause error) *QueueError {
	return &QueueError{Code: code, Message: message, Details: make(map[string]interface{}), Cause: cause}
}

func (e *QueueError) WithDetail(key string, value interface{}) *QueueError {
	e.Details[key] = value
	return e
}

// Convenience constructors for the five kinds of spec §7.

func QueueFull(bytes int64, kind string) *QueueError {
	return NewQueueError(ErrCodeQueueFull, "queue is full", nil).
		WithDetail("bytes", bytes).
		WithDetail("op_kind", kind)
}

func DuplicateOpID(id fmt.Stringer) *QueueError {
	return NewQueueError(ErrCodeDuplicateOpID, fmt.Sprintf("op id %s already present", id), nil).
		WithDetail("op_id", id.String())
}

func NotFound(id fmt.Stringer) *QueueError {
	return NewQueueError(ErrCodeNotFound, fmt.Sprintf("operation %s not found", id), nil).
		WithDetail("op_id", id.String())
}

func UnknownPeer(peer string) *QueueError {
	return NewQueueError(ErrCodeUnknownPeer, fmt.Sprintf("peer %q is not tracked", peer), nil).
		WithDetail("peer", peer)
}

func QueueClosed() *QueueError {
	return NewQueueError(ErrCodeQueueClosed, "queue is closed", nil)
}

func AlreadyTracked(peer string) *QueueError {
	return NewQueueError(ErrCodeAlreadyTracked, fmt.Sprintf("peer %q already tracked", peer), nil).
		WithDetail("peer", peer)
}

// IsQueueError checks if an error is a QueueError.
func IsQueueError(err error) bool {
	_, ok := err.(*QueueError)
	return ok
}

// GetCode extracts the error code from an error, defaulting to Internal.
func GetCode(err error) ErrorCode {
	if qe, ok := err.(*QueueError); ok {
		return qe.Code
	}
	return ErrCodeInternal
}
