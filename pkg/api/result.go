package api

import (
	"encoding/json"
	"errors"
)

// Result is the uniform response envelope. Status is true on success; Data
// optionally carries handler output on success or the cause on failure.
type Result struct {
	Status bool    `json:"status"`
	Data   *string `json:"data"`
}

// Success returns a successful envelope without data.
func Success() Result {
	return Result{Status: true}
}

// SuccessWithData returns a successful envelope carrying data.
func SuccessWithData(data string) Result {
	return Result{Status: true, Data: &data}
}

// SuccessWithJSON returns a successful envelope whose data is the JSON
// encoding of v.
func SuccessWithJSON(v any) (Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Result{}, err
	}
	return SuccessWithData(string(b)), nil
}

// Failure returns a failed envelope carrying a human-readable cause.
func Failure(cause string) Result {
	return Result{Status: false, Data: &cause}
}

// FromError converts err to a failed envelope. Only the Message of an
// *Error reaches the caller; any other error becomes a generic server error.
func FromError(err error) Result {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return Failure(apiErr.Message)
	}
	return Failure("Internal server error")
}

// DataString returns the data payload, or the empty string when absent.
func (r Result) DataString() string {
	if r.Data == nil {
		return ""
	}
	return *r.Data
}
