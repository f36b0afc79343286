package api

import "strings"

// MaxAddressLength bounds handler addresses.
const MaxAddressLength = 256

// ValidAddress reports whether address can be used as a handler key. An
// address is a non-empty path segment: no slashes, no whitespace.
func ValidAddress(address string) bool {
	if address == "" || len(address) > MaxAddressLength {
		return false
	}
	return !strings.ContainsAny(address, "/ \t\r\n")
}

// Validate checks the required fields of an upsert, filling Address from
// the legacy URI field when needed. It returns an *Error of type
// malformed_request naming uri, or nil.
func (r *UpsertHandlerRequest) Validate(uri string) *Error {
	if r.Address == "" {
		r.Address = r.URI
	}
	if !ValidAddress(r.Address) || r.APIKey == "" || r.Code == "" {
		return NewMalformedRequestError(uri)
	}
	return nil
}

// Validate checks the required fields of a find.
func (r *FindHandlerRequest) Validate(uri string) *Error {
	if r.Address == "" {
		r.Address = r.URI
	}
	if r.Address == "" || r.APIKey == "" {
		return NewMalformedRequestError(uri)
	}
	return nil
}

// Validate checks that a credential is present.
func (r *APIKeyRequest) Validate(uri string) *Error {
	if r.APIKey == "" {
		return NewMalformedRequestError(uri)
	}
	return nil
}
