package httpx

import "net/http"

const (
	StatusOK                  = http.StatusOK                  // Successful request
	StatusCreated             = http.StatusCreated             // Resource created
	StatusNoContent           = http.StatusNoContent           // Successful with no body
	StatusBadRequest          = http.StatusBadRequest          // Validation or malformed input
	StatusUnauthorized        = http.StatusUnauthorized        // Missing or invalid credentials
	StatusForbidden           = http.StatusForbidden           // Authenticated but lacks permission
	StatusNotFound            = http.StatusNotFound            // Resource not found
	StatusConflict            = http.StatusConflict            // Uniqueness or version conflict
	StatusUnprocessableEntity = http.StatusUnprocessableEntity // Semantically invalid input
	StatusTooManyRequests     = http.StatusTooManyRequests     // Rate limiting or quotas
	StatusInternalError       = http.StatusInternalServerError // Unexpected server error
	StatusServiceUnavailable  = http.StatusServiceUnavailable  // Dependency failure or maintenance
)

// KindOf maps a response status to its error bucket. Statuses below 400
// report KindNone.
func KindOf(status int) Kind {
	switch {
	case status < 400:
		return KindNone
	case status == StatusBadRequest:
		return KindBadRequest
	case status == StatusUnauthorized:
		return KindUnauthorized
	case status == StatusForbidden:
		return KindForbidden
	case status == StatusNotFound:
		return KindNotFound
	case status == StatusInternalError:
		return KindServer
	default:
		return KindOther
	}
}
