package errors

// Upstream HTTP helpers: classify response statuses from the search API into
// project ErrorCodes and build typed failures carrying a body excerpt

import (
	"net/http"
	"strings"
)

// EntityTooLargeMarker is the body text the upstream emits when a result set
// exceeds its response size ceiling. It arrives under a 5xx status
const EntityTooLargeMarker = "Response Entity Too Large"

// CodeFromStatus maps an upstream HTTP status to an ErrorCode.
// The inverse of HTTPStatusCode for the statuses the search API actually emits
func CodeFromStatus(status int) ErrorCode {
	switch {
	case status == http.StatusBadRequest:
		return ErrorCodeValidation
	case status == http.StatusUnauthorized:
		return ErrorCodeUnauthorized
	case status == http.StatusForbidden:
		return ErrorCodeForbidden
	case status == http.StatusNotFound:
		return ErrorCodeNotFound
	case status == http.StatusConflict:
		return ErrorCodeConflict
	case status == http.StatusTooManyRequests:
		return ErrorCodeTooManyRequests
	case status >= 400 && status < 500:
		return ErrorCodeInvalidArgument
	case status >= 500:
		return ErrorCodeUpstream
	default:
		return ErrorCodeUnknown
	}
}

// IsEntityTooLarge reports whether a 5xx body carries the upstream's
// oversized-result marker
func IsEntityTooLarge(status int, body string) bool {
	return status >= 500 && strings.Contains(body, EntityTooLargeMarker)
}

// FromStatus builds the typed failure for a non-2xx upstream response.
// body is a bounded excerpt used for the marker test and the message
func FromStatus(status int, url, body string) error {
	if IsEntityTooLarge(status, body) {
		return EntityTooLargef("upstream %d for %s: %s", status, url, strings.TrimSpace(body))
	}
	code := CodeFromStatus(status)
	excerpt := strings.TrimSpace(body)
	if excerpt == "" {
		return Newf(code, "upstream %d for %s", status, url)
	}
	return Newf(code, "upstream %d for %s: %s", status, url, excerpt)
}
