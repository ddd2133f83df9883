package gwerr

import (
	"context"
	"errors"
)

// StatusCoder is implemented by provider errors that carry an upstream HTTP
// status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Classify normalizes a heterogeneous upstream failure into a *Error.
//
//	HTTP 429          → RATE_LIMIT_EXCEEDED, retryable
//	HTTP 401/403      → INVALID_API_KEY, not retryable
//	HTTP ≥ 500        → SERVICE_UNAVAILABLE, retryable
//	context deadline  → SERVICE_UNAVAILABLE, retryable
//	*Error            → passed through unchanged
//	anything else     → UNKNOWN_ERROR, not retryable
//
// This is the single place that decides retryability.
func Classify(err error, provider string) *Error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Message:   "provider request timed out",
			Code:      CodeServiceUnavailable,
			Provider:  provider,
			Retryable: true,
		}
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch status := sc.HTTPStatus(); {
		case status == 429:
			return &Error{
				Message:   err.Error(),
				Code:      CodeRateLimitExceeded,
				Provider:  provider,
				Retryable: true,
			}
		case status == 401 || status == 403:
			return &Error{
				Message:  err.Error(),
				Code:     CodeInvalidAPIKey,
				Provider: provider,
			}
		case status >= 500:
			return &Error{
				Message:   err.Error(),
				Code:      CodeServiceUnavailable,
				Provider:  provider,
				Retryable: true,
			}
		}
	}

	return &Error{
		Message:  err.Error(),
		Code:     CodeUnknown,
		Provider: provider,
	}
}
