// Package providers defines the common interfaces and types used by all AI
// provider implementations (OpenAI, Anthropic, Gemini, and OpenAI-compatible
// endpoints).
//
// Each provider lives in its own sub-package and implements the Provider
// interface. Providers that support vector embeddings additionally implement
// EmbeddingProvider; providers with a native token counting endpoint
// implement TokenCounter. Check with a type assertion before calling either.
package providers

import (
	"context"
	"time"
)

type (
	// StreamChunk is a single token chunk delivered during a streaming response.
	StreamChunk struct {
		Content      string
		FinishReason string
	}

	// Message is a single turn in a conversation (role + text content).
	Message struct {
		Role    string
		Content string
	}

	// Usage — token usage stats.
	Usage struct {
		PromptTokens     int
		CompletionTokens int
	}

	// Request — normalized completion request. Zero-valued tuning fields mean
	// "provider default" and are omitted from the upstream call.
	Request struct {
		Model            string
		Messages         []Message
		Stream           bool
		Temperature      float64
		MaxTokens        int
		TopP             float64
		FrequencyPenalty float64
		PresencePenalty  float64
		Stop             []string
		User             string
		RequestID        string
	}

	// Response — normalized provider response.
	Response struct {
		ID           string
		Model        string
		Content      string
		FinishReason string
		Usage        Usage
		Stream       <-chan StreamChunk // nil if it's not a stream.
	}

	// EmbeddingRequest — normalized embedding request.
	EmbeddingRequest struct {
		// Input is the list of texts to embed. Always at least one element.
		Input []string
		// Model is the provider-native model name (e.g. "text-embedding-3-small").
		Model     string
		RequestID string
	}

	// EmbeddingData — a single embedding vector.
	EmbeddingData struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}

	// EmbeddingResponse — normalized embedding response.
	EmbeddingResponse struct {
		Model string
		Data  []EmbeddingData
		Usage Usage
	}
)

// Provider — AI provider interface.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
	HealthCheck(ctx context.Context) error
}

// EmbeddingProvider is an optional interface implemented by providers that
// support the embeddings API.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

// TokenCounter is an optional interface for providers with a native token
// counting endpoint. Providers without one fall back to the gateway's
// character-based estimate.
type TokenCounter interface {
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)
}

// ProviderTimeout bounds a single upstream call.
const ProviderTimeout = 30 * time.Second

// StatusCoder is implemented by provider error types that carry an upstream
// HTTP status. The error classifier maps the status into the gateway
// taxonomy.
type StatusCoder interface {
	HTTPStatus() int
}
