// Package gwerr defines the closed error taxonomy surfaced by the gateway.
//
// Every failure that escapes the orchestrator is a *Error carrying a Code
// from the closed set below and a Retryable flag. Callers branch on the
// flag, never on message text.
package gwerr

import "fmt"

// Code is a member of the closed gateway error taxonomy.
type Code string

const (
	// CodeModelNotConfigured — the requested model is absent from the catalog.
	// Caller misconfiguration; retrying the same request cannot succeed.
	CodeModelNotConfigured Code = "MODEL_NOT_CONFIGURED"

	// CodeRateLimitExceeded — a fixed-window admission check denied the
	// request. Retryable for per-minute windows, not for per-day windows.
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"

	// CodeBudgetExceeded — cumulative spend has reached the period cap.
	CodeBudgetExceeded Code = "BUDGET_EXCEEDED"

	// CodeInvalidAPIKey — the upstream rejected our credentials.
	// Operator misconfiguration; never retryable.
	CodeInvalidAPIKey Code = "INVALID_API_KEY"

	// CodeServiceUnavailable — upstream 5xx or timeout. Retryable.
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"

	// CodeUnknown — anything that does not fit the taxonomy. Logged for
	// investigation; not retryable.
	CodeUnknown Code = "UNKNOWN_ERROR"
)

// Error is the only error shape the orchestrator returns to callers.
type Error struct {
	Message   string `json:"message"`
	Code      Code   `json:"code"`
	Provider  string `json:"provider,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// New constructs an Error with an explicit retryable flag.
func New(code Code, provider, message string, retryable bool) *Error {
	return &Error{Message: message, Code: code, Provider: provider, Retryable: retryable}
}

// ModelNotConfigured returns the canonical error for an unknown model ID.
func ModelNotConfigured(model string) *Error {
	return &Error{
		Message: fmt.Sprintf("model %q is not configured", model),
		Code:    CodeModelNotConfigured,
	}
}

// RateLimited returns a RATE_LIMIT_EXCEEDED error. retryable distinguishes
// per-minute denials (true) from per-day denials (false).
func RateLimited(scope, window string, retryable bool) *Error {
	return &Error{
		Message:   fmt.Sprintf("rate limit exceeded for %s (%s window)", scope, window),
		Code:      CodeRateLimitExceeded,
		Retryable: retryable,
	}
}

// BudgetExceeded returns a non-retryable BUDGET_EXCEEDED error.
func BudgetExceeded(period string, spent, limit float64) *Error {
	return &Error{
		Message: fmt.Sprintf("%s budget exhausted: $%.4f of $%.2f spent", period, spent, limit),
		Code:    CodeBudgetExceeded,
	}
}
