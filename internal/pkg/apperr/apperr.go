package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failure for callers that branch on kind rather than message.
type Code string

const (
	IOFailure           Code = "io_failure"
	ParseFailure        Code = "parse_failure"
	CacheUnavailable    Code = "cache_unavailable"
	ProcessingTimeout   Code = "processing_timeout"
	MemoryLimitExceeded Code = "memory_limit_exceeded"
	FileTooLarge        Code = "file_too_large"
	TooManyElements     Code = "too_many_elements"
	PersistenceFailure  Code = "persistence_failure"
	SandboxFailure      Code = "sandbox_failure"
	InvalidArgument     Code = "invalid_argument"
	Internal            Code = "internal"
)

func (c Code) Valid() bool {
	switch c {
	case IOFailure, ParseFailure, CacheUnavailable, ProcessingTimeout, MemoryLimitExceeded,
		FileTooLarge, TooManyElements, PersistenceFailure, SandboxFailure, InvalidArgument, Internal:
		return true
	default:
		return false
	}
}

type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func Newf(code Code, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the outermost *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return Internal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// FromContext classifies a context error: an expired deadline is a
// ProcessingTimeout, a cancellation is Internal.
func FromContext(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ProcessingTimeout, op, err)
	}
	return New(Internal, op, err)
}
