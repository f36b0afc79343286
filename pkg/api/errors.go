package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeInvalidAPIKey     ErrorType = "invalid_api_key"
	ErrorTypeUnknownHandler    ErrorType = "unknown_handler"
	ErrorTypeOwnershipMismatch ErrorType = "ownership_mismatch"
	ErrorTypeCompile           ErrorType = "compile_error"
	ErrorTypeRuntime           ErrorType = "runtime_error"
	ErrorTypePersistence       ErrorType = "persistence_error"
	ErrorTypeUpstreamLookup    ErrorType = "upstream_lookup_failure"
	ErrorTypeMalformedRequest  ErrorType = "malformed_request"
	ErrorTypeTooManyRequests   ErrorType = "too_many_requests"
	ErrorTypeServerError       ErrorType = "server_error"
)

// Error is a categorized failure. Message is safe to return to the caller;
// Err carries the underlying cause and is only ever logged.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsType reports whether err is (or wraps) an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Type == t
}

// NewInvalidAPIKeyError reports a credential that is not in the key store.
func NewInvalidAPIKeyError() *Error {
	return &Error{Type: ErrorTypeInvalidAPIKey, Message: "Invalid auth token"}
}

// NewUnknownHandlerError reports a lookup of an address with no handler.
func NewUnknownHandlerError(address string) *Error {
	return &Error{
		Type:    ErrorTypeUnknownHandler,
		Message: fmt.Sprintf("Unable to find handler %s", address),
	}
}

// NewOwnershipMismatchError reports an address owned by another key. The
// message names the address only; the owning key is never disclosed.
func NewOwnershipMismatchError(address string) *Error {
	return &Error{
		Type:    ErrorTypeOwnershipMismatch,
		Message: fmt.Sprintf("A handler with address %s already exists", address),
	}
}

// NewCompileError reports source the execution engine rejected. The
// diagnostic is returned to the tenant, who wrote the source.
func NewCompileError(diagnostic string, err error) *Error {
	return &Error{
		Type:    ErrorTypeCompile,
		Message: "Error parsing code: " + diagnostic,
		Err:     err,
	}
}

// NewRuntimeError reports a failed invocation. The engine diagnostic stays
// in Err and is never part of Message.
func NewRuntimeError(err error) *Error {
	return &Error{
		Type:    ErrorTypeRuntime,
		Message: "Error running client code!",
		Err:     err,
	}
}

// NewPersistenceError reports a snapshot that could not be written.
func NewPersistenceError(err error) *Error {
	return &Error{
		Type:    ErrorTypePersistence,
		Message: "Server error while saving db",
		Err:     err,
	}
}

// NewUpstreamLookupError reports a failed call to an external directory.
func NewUpstreamLookupError(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeUpstreamLookup,
		Message: message,
		Err:     err,
	}
}

// NewMalformedRequestError reports a request body that could not be decoded
// or is missing required fields.
func NewMalformedRequestError(uri string) *Error {
	return &Error{
		Type:    ErrorTypeMalformedRequest,
		Message: fmt.Sprintf("The request to %s contained malformed data", uri),
	}
}

// NewTooManyRequestsError reports a rate-limited invocation.
func NewTooManyRequestsError(address string) *Error {
	return &Error{
		Type:    ErrorTypeTooManyRequests,
		Message: fmt.Sprintf("Rate limit exceeded for endpoint %s", address),
	}
}

// NewServerError creates an Error for internal server errors.
func NewServerError(message string) *Error {
	return &Error{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}
