package chat

import (
	"net/http"

	"github.com/upb/grounded-chat/services"
)

// StatusCode maps a Chat error to the HTTP status of the response
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsRateLimitError(err):
		return http.StatusTooManyRequests
	case services.IsCompletionError(err), services.IsRetrievalError(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
