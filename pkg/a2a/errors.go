package a2a

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTimeout           = errors.New("timeout")
	ErrUnavailable       = errors.New("unavailable")
	ErrAllAgentsFailed   = errors.New("all agents failed")
)

const (
	CodeInvalidInput      = "invalid_input"
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeTimeout           = "timeout"
	CodeUnavailable       = "unavailable"
	CodeAllAgentsFailed   = "all_agents_failed"
	CodeCanceled          = "canceled"
	CodeInternal          = "internal"
)

var codeErrors = map[string]error{
	CodeInvalidInput:      ErrInvalidInput,
	CodeNotFound:          ErrNotFound,
	CodeInvalidTransition: ErrInvalidTransition,
	CodeTimeout:           ErrTimeout,
	CodeUnavailable:       ErrUnavailable,
	CodeAllAgentsFailed:   ErrAllAgentsFailed,
	CodeCanceled:          context.Canceled,
}

// ErrorCode classifies err into one of the taxonomy codes. A context
// deadline counts as a timeout.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrAllAgentsFailed):
		return CodeAllAgentsFailed
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// ErrorDetail is the typed failure recorded on a failed task.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorDetail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	return &ErrorDetail{Code: ErrorCode(err), Message: err.Error()}
}

func (d *ErrorDetail) Error() string {
	return d.Code + ": " + d.Message
}

// Unwrap lets errors.Is match a detail decoded from the wire against the
// sentinel it was produced from.
func (d *ErrorDetail) Unwrap() error {
	return codeErrors[d.Code]
}
