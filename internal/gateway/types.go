package gateway

import (
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/cost"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

type (
	// Message is a single conversation turn supplied by the caller.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// RequestOptions carries everything a completion request can tune.
	// Zero-valued fields fall back to the model's catalog defaults.
	RequestOptions struct {
		Model            string    `json:"model"`
		Messages         []Message `json:"messages"`
		Stream           bool      `json:"stream"`
		Temperature      float64   `json:"temperature"`
		MaxTokens        int       `json:"max_tokens"`
		TopP             float64   `json:"top_p"`
		FrequencyPenalty float64   `json:"frequency_penalty"`
		PresencePenalty  float64   `json:"presence_penalty"`
		Stop             []string  `json:"stop"`
		User             string    `json:"user"`

		// SkipCache bypasses both cache lookup and population for this
		// request.
		SkipCache bool `json:"-"`

		// RequestID correlates logs and audit entries. Assigned by the
		// transport when empty.
		RequestID string `json:"-"`
	}

	// UsageRecord is the token accounting for one request.
	UsageRecord struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	// CompletionResponse is the orchestrator's answer to GenerateCompletion.
	// For streaming requests Content is empty and Stream carries the chunks;
	// usage, cost, and audit settle after the stream drains.
	CompletionResponse struct {
		ID           string         `json:"id"`
		Model        string         `json:"model"`
		Provider     string         `json:"provider"`
		Content      string         `json:"content"`
		FinishReason string         `json:"finish_reason,omitempty"`
		Usage        UsageRecord    `json:"usage"`
		Cost         cost.Breakdown `json:"cost"`
		Cached       bool           `json:"cached"`
		// Timestamp is when the completion was produced. Cache hits keep the
		// original generation time.
		Timestamp time.Time `json:"timestamp"`
		LatencyMs int64     `json:"latency_ms"`

		Stream <-chan providers.StreamChunk `json:"-"`
	}

	// EmbeddingOptions is the input to GenerateEmbeddings.
	EmbeddingOptions struct {
		Model     string   `json:"model"`
		Input     []string `json:"input"`
		User      string   `json:"user"`
		RequestID string   `json:"-"`
	}

	// EmbeddingResult is the orchestrator's answer to GenerateEmbeddings.
	EmbeddingResult struct {
		Model     string                    `json:"model"`
		Provider  string                    `json:"provider"`
		Data      []providers.EmbeddingData `json:"data"`
		Usage     UsageRecord               `json:"usage"`
		Cost      cost.Breakdown            `json:"cost"`
		LatencyMs int64                     `json:"latency_ms"`
	}

	// TokenCount reports how a token count was obtained.
	TokenCount struct {
		Tokens    int    `json:"tokens"`
		Method    string `json:"method"` // "provider" | "estimate"
		Model     string `json:"model"`
		Estimated bool   `json:"estimated"`
	}
)
