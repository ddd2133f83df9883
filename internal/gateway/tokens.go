package gateway

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const countTimeout = 5 * time.Second

// CountTokens returns the prompt token count for model. When the model's
// provider exposes a native counting endpoint it is asked first; any failure
// — unknown model, unsupported provider, upstream error — falls back to the
// character estimate. CountTokens never fails.
func (s *Service) CountTokens(ctx context.Context, model string, messages []Message) TokenCount {
	if mc, ok := s.catalog.Lookup(model); ok {
		if prov, ok := s.providers[mc.Provider]; ok {
			if counter, ok := prov.(providers.TokenCounter); ok {
				cctx, cancel := context.WithTimeout(ctx, countTimeout)
				defer cancel()

				msgs := make([]providers.Message, len(messages))
				for i, m := range messages {
					msgs[i] = providers.Message{Role: m.Role, Content: m.Content}
				}
				if n, err := counter.CountTokens(cctx, model, msgs); err == nil {
					return TokenCount{Tokens: n, Method: "provider", Model: model}
				}
			}
		}
	}

	return TokenCount{
		Tokens:    s.estimateMessages(messages),
		Method:    "estimate",
		Model:     model,
		Estimated: true,
	}
}

// estimateMessages approximates the prompt size at ~4 characters per token,
// counting runes so multi-byte text is not overcounted.
func (s *Service) estimateMessages(messages []Message) int {
	var runes int
	for _, m := range messages {
		runes += utf8.RuneCountInString(m.Content) + utf8.RuneCountInString(m.Role)
	}
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}
