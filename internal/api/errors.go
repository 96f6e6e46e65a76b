package api

import (
	"net/http"

	"github.com/fablehq/fable-api/internal/apperrors"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes based on
// the error kind. Unknown errors become 500 so nothing internal leaks.
func MapErrorToStatusCode(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindRateLimit:
		return http.StatusTooManyRequests
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout
	case apperrors.KindUpstream, apperrors.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for the
// error. Raw error strings never reach clients.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		// Validation messages are authored by us and safe to show.
		if appErr := apperrors.Coerce(err); appErr.Message != "" {
			return appErr.Message
		}
		return "Invalid request"
	case apperrors.KindRateLimit:
		return "Rate limit exceeded, please retry later"
	case apperrors.KindTimeout:
		return "The request timed out"
	case apperrors.KindUpstream:
		return "The generation service is unavailable"
	case apperrors.KindParse:
		return "The generated content could not be processed"
	default:
		return "An unexpected error occurred"
	}
}
