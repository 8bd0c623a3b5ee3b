package modelstore

import (
	"errors"
	"fmt"
	"time"
)

const (
	CodeValidation  = "validation"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
	CodeTimeout     = "timeout"
	CodeInternal    = "internal"
)

// Error is the structured failure shared by the store implementations and
// the HTTP surface.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Transient  bool   `json:"transient"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Status     int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func StatusForCode(code string) int {
	switch code {
	case CodeValidation:
		return 400
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeRateLimited:
		return 429
	case CodeTimeout:
		return 408
	case CodeUnavailable:
		return 503
	default:
		return 500
	}
}

func newError(code, message string, transient bool, retryAfter time.Duration) *Error {
	retryAfterSec := 0
	if retryAfter > 0 {
		retryAfterSec = int(retryAfter.Seconds())
		if retryAfterSec <= 0 {
			retryAfterSec = 1
		}
	}
	return &Error{
		Code:       code,
		Message:    message,
		Transient:  transient,
		RetryAfter: retryAfterSec,
		Status:     StatusForCode(code),
	}
}

func NewValidationError(message string) error {
	return newError(CodeValidation, message, false, 0)
}

func NewNotFoundError(id string) error {
	return newError(CodeNotFound, fmt.Sprintf("model %q not found", id), false, 0)
}

func NewConflictError(id string) error {
	return newError(CodeConflict, fmt.Sprintf("model %q already exists", id), false, 0)
}

func NewUnavailableError(message string) error {
	return newError(CodeUnavailable, message, true, time.Second)
}

func NewInternalError(message string) error {
	return newError(CodeInternal, message, true, 0)
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsNotFound(err error) bool { return err != nil && CodeOf(err) == CodeNotFound }

// IsTransient reports whether retrying err may succeed.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}
