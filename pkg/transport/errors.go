package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/polyrun/pkg/api"
)

var statusByType = map[api.ErrorType]int{
	api.ErrorTypeInvalidRequest:  http.StatusBadRequest,
	api.ErrorTypeUnauthorized:    http.StatusUnauthorized,
	api.ErrorTypeNotFound:        http.StatusNotFound,
	api.ErrorTypeConflict:        http.StatusConflict,
	api.ErrorTypeTooManyRequests: http.StatusTooManyRequests,
}

// HTTPStatusFromError maps an APIError to its HTTP status. Expired share
// links are 410; unknown types are 500.
func HTTPStatusFromError(err *api.APIError) int {
	if err.Type == api.ErrorTypeNotFound && err.Code == api.CodeExpired {
		return http.StatusGone
	}
	if code, ok := statusByType[err.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes apiErr in the api.ErrorResponse envelope with
// an explicit status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes apiErr with the status derived from its type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
