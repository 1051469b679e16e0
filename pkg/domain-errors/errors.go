// Package domainerrors provides coded errors for service boundaries. Stores
// return sentinel errors (pkg/platform/sentinel); services translate them into
// coded errors here so transport layers can map them onto HTTP statuses without
// inspecting error strings.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies an error for callers and the HTTP layer.
type Code string

const (
	// CodeUnauthorized: the caller could not be resolved to a local user.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeForbidden: the caller is authenticated but not permitted (wrong owner or role).
	CodeForbidden Code = "FORBIDDEN"
	// CodeNotFound: the referenced application, document type, or payment does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalidState: the operation is not legal from the entity's current status,
	// e.g. submitting twice or resubmitting past the attempt ceiling.
	CodeInvalidState Code = "INVALID_STATE"
	// CodeValidation: the input fails a domain rule (amount arithmetic, missing
	// required document). The message names the offending item.
	CodeValidation Code = "VALIDATION"
	// CodeGateway: communication with the payment gateway failed. Local state is
	// never mutated when this is returned.
	CodeGateway Code = "GATEWAY"
	// CodeInvalidInput: malformed primitive input (bad UUID, empty field).
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeBadRequest: malformed request body or parameters.
	CodeBadRequest Code = "BAD_REQUEST"
	// CodeConflict: the operation conflicts with existing state (duplicate active payment).
	CodeConflict Code = "CONFLICT"
	// CodeInternal: unexpected infrastructure failure.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded domain error. It may wrap an underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with a human-readable message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// original for errors.Is/As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the HTTP status the transport layer should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeConflict:
		return http.StatusConflict
	case CodeValidation, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
