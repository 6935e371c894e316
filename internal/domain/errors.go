package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Authentication required
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	ECONFLICT     = "conflict"     // Resource conflict (e.g., duplicate)
	ETOOLARGE     = "too_large"    // Request entity too large
	ERATELIMIT    = "rate_limit"   // Rate limit exceeded
	EINTERNAL     = "internal"     // Internal server error
	EUNAVAILABLE  = "unavailable"  // Feature not configured or dependency down
)

// Reason is the machine-readable cause carried in error response bodies.
// The set is closed; clients switch on these values.
type Reason string

const (
	ReasonUnauthenticated   Reason = "UNAUTHENTICATED"
	ReasonEmailNotVerified  Reason = "EMAIL_NOT_VERIFIED"
	ReasonRateLimited       Reason = "RATE_LIMITED"
	ReasonScanLimitReached  Reason = "SCAN_LIMIT_REACHED"
	ReasonValidation        Reason = "VALIDATION_ERROR"
	ReasonUpstreamFailure   Reason = "UPSTREAM_FAILURE"
	ReasonInvalidSignature  Reason = "INVALID_SIGNATURE"
	ReasonNoBillingCustomer Reason = "NO_BILLING_CUSTOMER"
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "scan.evaluate")
	Message string // Human-readable message
	Reason  Reason // Client-facing cause, optional
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
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

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// ErrorReason returns the reason of the error. Errors without an explicit
// reason get one derived from their code.
func ErrorReason(err error) Reason {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return ReasonUpstreamFailure
	}
	if e.Reason != "" {
		return e.Reason
	}
	switch e.Code {
	case EINVALID, ETOOLARGE:
		return ReasonValidation
	case EUNAUTHORIZED:
		return ReasonUnauthenticated
	case ERATELIMIT:
		return ReasonRateLimited
	case EINTERNAL, EUNAVAILABLE:
		return ReasonUpstreamFailure
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
		Reason:  ReasonValidation,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
		Reason:  ReasonUnauthenticated,
	}
}

// Forbidden creates a permission error with the given reason.
func Forbidden(op string, reason Reason, message string) *Error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
		Reason:  reason,
	}
}

// EmailNotVerified is returned when a verified address is required.
func EmailNotVerified(op string) *Error {
	return Forbidden(op, ReasonEmailNotVerified, "Please verify your email address before scanning.")
}

// ScanLimitReached is returned when plan allowance and credits are exhausted.
func ScanLimitReached(op string) *Error {
	return Forbidden(op, ReasonScanLimitReached, "You have used all available scans. Upgrade your plan or buy a credit pack.")
}

// TooLarge is returned when an upload exceeds the configured size.
func TooLarge(op, message string) *Error {
	return &Error{
		Code:    ETOOLARGE,
		Op:      op,
		Message: message,
		Reason:  ReasonValidation,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Reason:  ReasonUpstreamFailure,
		Err:     err,
	}
}

// RateLimit creates a rate limit error.
func RateLimit(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Too many requests. Please try again later.",
		Reason:  ReasonRateLimited,
	}
}

// InvalidSignature is returned when a webhook payload fails verification.
func InvalidSignature(op string, err error) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: "Webhook signature verification failed",
		Reason:  ReasonInvalidSignature,
		Err:     err,
	}
}

// Unavailable reports a feature that is not configured in this deployment.
func Unavailable(op, message string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: message,
	}
}

// NoBillingCustomer is returned when a billing action needs a linked
// Stripe customer and the user has none.
func NoBillingCustomer(op string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: "No billing account exists for this user yet.",
		Reason:  ReasonNoBillingCustomer,
	}
}
