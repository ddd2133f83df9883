package gwerr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

type envelope struct {
	Error *Error `json:"error"`
}

// HTTPStatus maps an error code to the HTTP status the transport returns.
func HTTPStatus(code Code) int {
	switch code {
	case CodeModelNotConfigured:
		return fasthttp.StatusBadRequest
	case CodeRateLimitExceeded:
		return fasthttp.StatusTooManyRequests
	case CodeBudgetExceeded:
		return fasthttp.StatusPaymentRequired
	case CodeInvalidAPIKey:
		return fasthttp.StatusUnauthorized
	case CodeServiceUnavailable:
		return fasthttp.StatusBadGateway
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Write serializes e as the JSON error envelope with its mapped HTTP status.
// Retryable rate-limit errors additionally carry a Retry-After header.
func Write(ctx *fasthttp.RequestCtx, e *Error) {
	if e.Code == CodeRateLimitExceeded && e.Retryable {
		ctx.Response.Header.Set("Retry-After", "60")
	}
	ctx.SetStatusCode(HTTPStatus(e.Code))
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: e})
	ctx.SetBody(body)
}

// WriteInvalidRequest writes a 400 for malformed client input. Bad input is a
// transport concern and never reaches the orchestrator taxonomy.
func WriteInvalidRequest(ctx *fasthttp.RequestCtx, message string) {
	ctx.SetStatusCode(fasthttp.StatusBadRequest)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
	ctx.SetBody(body)
}
