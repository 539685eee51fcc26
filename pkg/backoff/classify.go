package backoff

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"letterdesk/internal/apperr"
)

// Classify determines whether err is a retryable quota failure.
// Returns: (isRetryable, errorType)
func Classify(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if apperr.IsRateLimited(err) {
		return true, "rate_limited"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return false, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return true, "rate_limited"
		case gerr.Code == http.StatusForbidden && hasRateLimitReason(gerr):
			return true, "rate_limited"
		case gerr.Code == http.StatusNotFound:
			return false, "not_found"
		default:
			return false, "remote_error"
		}
	}

	// Some client paths only surface the message text.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "quota") {
		return true, "rate_limited"
	}

	if errors.Is(err, apperr.ErrNotFound) {
		return false, "not_found"
	}
	return false, "error"
}

func hasRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}
