package domain

import (
	"errors"
	"fmt"
)

// Application error codes. Handlers map them to HTTP statuses; the quota
// gate maps ECONFIG and EUNAVAILABLE to a denial.
const (
	EINVALID     = "invalid"     // bad input
	ENOTFOUND    = "not_found"   // unknown resource or route
	ECONFLICT    = "conflict"    // write refused because of existing state
	ERATELIMIT   = "rate_limit"  // per-client request limit hit
	EQUOTA       = "quota"       // allowance exhausted for the current period
	ECONFIG      = "config"      // no catalog entry for a level/type pair
	EUNAVAILABLE = "unavailable" // usage store unreachable
	EINTERNAL    = "internal"
)

const internalMessage = "An internal error occurred. Please try again later."

// Error is the error type returned across package boundaries.
type Error struct {
	Code    string // one of the codes above
	Op      string // failing operation, e.g. "quota.check"; logged, never shown
	Message string // safe to show to API callers
	Err     error  // cause; logged, never shown
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error with a formatted message and no cause.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode returns the code of the first *Error in err's chain. Errors
// from outside the domain are EINTERNAL.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns a message that is safe to send to a caller.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return internalMessage
	}
	switch e.Code {
	case EINTERNAL:
		return internalMessage
	case EUNAVAILABLE:
		return "Usage tracking is temporarily unavailable. Please try again."
	}
	return e.Message
}

// ErrorOp returns the operation of the first *Error in err's chain.
func ErrorOp(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Invalid creates an EINVALID error.
func Invalid(op, message string) *Error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

// Internal creates an EINTERNAL error around err.
func Internal(err error, op, message string) *Error {
	return &Error{Code: EINTERNAL, Op: op, Message: message, Err: err}
}

// Unavailable creates a store failure error. The quota engine reports every
// infrastructure failure with this code so callers deny the gated action.
func Unavailable(err error, op, message string) *Error {
	return &Error{Code: EUNAVAILABLE, Op: op, Message: message, Err: err}
}

// Misconfigured creates a configuration error for a level/type pair that has
// no catalog entry.
func Misconfigured(op string, level string, quotaType QuotaType) *Error {
	return &Error{
		Code:    ECONFIG,
		Op:      op,
		Message: fmt.Sprintf("no quota configured for level %q and type %q", level, quotaType),
	}
}

// IsUnavailable reports whether err is a store failure.
func IsUnavailable(err error) bool {
	return ErrorCode(err) == EUNAVAILABLE
}
