package dto

import (
	"net/http"

	"github.com/diarco/connexa-sync/internal/domain/shared"
)

// Standard error codes
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeNotFound    = "ERR_NOT_FOUND"
	ErrCodeConflict    = "ERR_CONFLICT"
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeNotFound:    http.StatusNotFound,
	ErrCodeConflict:    http.StatusConflict,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	shared.CodeConnectivity:         http.StatusServiceUnavailable,
	shared.CodeLockTimeout:          http.StatusServiceUnavailable,
	shared.CodeSchemaMismatch:       http.StatusUnprocessableEntity,
	shared.CodeDataValidation:       http.StatusUnprocessableEntity,
	shared.CodeDuplicateKeyConflict: http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
