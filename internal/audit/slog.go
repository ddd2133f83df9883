package audit

import (
	"context"
	"log/slog"
)

// SlogSink emits each entry as a structured log line. It is the fallback
// sink when no durable store is configured, and useful alongside one in
// development.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) WriteBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		// Input and Output are deliberately not logged here: prompt and
		// response bodies belong in the stores, not in the process log.
		s.log.InfoContext(ctx, "request",
			slog.String("id", e.ID.String()),
			slog.String("request_id", e.RequestID),
			slog.String("caller_id", e.CallerID),
			slog.String("operation", e.Operation),
			slog.String("provider", e.Provider),
			slog.String("model", e.Model),
			slog.Uint64("prompt_tokens", uint64(e.PromptTokens)),
			slog.Uint64("completion_tokens", uint64(e.CompletionTokens)),
			slog.Float64("cost_usd", e.CostUSD),
			slog.Uint64("latency_ms", uint64(e.LatencyMs)),
			slog.Bool("cached", e.Cached),
			slog.Uint64("status", uint64(e.Status)),
			slog.String("error_code", e.ErrorCode),
			slog.Time("created_at", e.CreatedAt),
		)
	}
	return nil
}

func (s *SlogSink) Close() error { return nil }
