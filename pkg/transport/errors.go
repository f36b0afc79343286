package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/majordomo/pkg/api"
)

// HTTPStatusFromError maps an error type to an HTTP status code. Domain
// failures (bad key, unknown handler, ownership, compile, runtime,
// persistence) are answered with 200 and a failed envelope; clients
// branch on the envelope's status field. Only protocol-level problems
// change the status code.
func HTTPStatusFromError(err *api.Error) int {
	switch err.Type {
	case api.ErrorTypeMalformedRequest:
		return http.StatusUnprocessableEntity
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// WriteResult writes res as JSON with the given status code.
func WriteResult(w http.ResponseWriter, res api.Result, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(res)
}

// WriteError writes err as a failed envelope, deriving the status code
// from its type. Only err.Message reaches the client.
func WriteError(w http.ResponseWriter, err *api.Error) {
	WriteResult(w, api.FromError(err), HTTPStatusFromError(err))
}
