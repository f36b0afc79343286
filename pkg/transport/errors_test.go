package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/majordomo/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name       string
		errType    api.ErrorType
		wantStatus int
	}{
		{"malformed_request -> 422", api.ErrorTypeMalformedRequest, http.StatusUnprocessableEntity},
		{"too_many_requests -> 429", api.ErrorTypeTooManyRequests, http.StatusTooManyRequests},
		{"server_error -> 500", api.ErrorTypeServerError, http.StatusInternalServerError},
		{"invalid_api_key -> 200", api.ErrorTypeInvalidAPIKey, http.StatusOK},
		{"ownership_mismatch -> 200", api.ErrorTypeOwnershipMismatch, http.StatusOK},
		{"compile_error -> 200", api.ErrorTypeCompile, http.StatusOK},
		{"persistence_error -> 200", api.ErrorTypePersistence, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &api.Error{Type: tt.errType, Message: "test"}
			got := HTTPStatusFromError(err)
			if got != tt.wantStatus {
				t.Errorf("HTTPStatusFromError(%q) = %d, want %d", tt.errType, got, tt.wantStatus)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()

	apiErr := api.NewPersistenceError(errors.New("disk full"))
	WriteError(rec, apiErr)

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var res api.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if res.Status {
		t.Error("status = true, want false")
	}
	if got := res.DataString(); got != "Server error while saving db" {
		t.Errorf("data = %q, want %q", got, "Server error while saving db")
	}
}

func TestWriteResult_NullData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteResult(rec, api.Success(), http.StatusOK)

	if got := rec.Body.String(); got != "{\"status\":true,\"data\":null}\n" {
		t.Errorf("body = %q", got)
	}
}
