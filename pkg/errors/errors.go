package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a stable, comparable error classification independent of message text.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInternal        Code = "INTERNAL"
	CodeConflict        Code = "CONFLICT"
	CodeForbidden       Code = "FORBIDDEN"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodePermanent       Code = "PERMANENT"
)

// AppError is the standard error type returned across package boundaries.
// It carries a stable Code a caller can switch on, a human-readable Message,
// and an optional underlying cause for chaining.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New constructs an AppError with an explicit code.
func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches context to err while preserving its code, if it already has
// one. Errors without a code are wrapped as CodeInternal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: fmt.Sprintf("%s: %s", message, ae.Message), Cause: ae.Cause}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

func Forbidden(message string, cause error) *AppError {
	return New(CodeForbidden, message, cause)
}

// RateLimited marks an error as a transient, retry-after-backoff condition
// raised by RateLimiter.allow() rejections.
func RateLimited(message string, cause error) *AppError {
	return New(CodeRateLimited, message, cause)
}

// Unavailable marks a transient downstream failure — the caller should retry,
// and repeated Unavailable errors are what trips a CircuitBreaker open.
func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

// Permanent marks an error a retry loop must not retry (e.g. a 4xx from a
// platform API that will never succeed unmodified).
func Permanent(message string, cause error) *AppError {
	return New(CodePermanent, message, cause)
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code Code) bool {
	var ae *AppError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == code
}

// As delegates to the standard library's errors.As for interop with callers
// matching against a concrete *AppError.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// HTTPStatus maps a Code to the conventional HTTP status for REST surfaces.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodePermanent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps a Code to the conventional gRPC status code.
func GRPCCode(code Code) codes.Code {
	switch code {
	case CodeNotFound:
		return codes.NotFound
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeConflict:
		return codes.AlreadyExists
	case CodeForbidden:
		return codes.PermissionDenied
	case CodeRateLimited:
		return codes.ResourceExhausted
	case CodeUnavailable:
		return codes.Unavailable
	case CodePermanent:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
