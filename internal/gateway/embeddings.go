package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/cost"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/pkg/gwerr"
)

// GenerateEmbeddings runs the embedding pipeline. It shares admission and
// settlement with completions but never touches the response cache:
// embedding inputs are rarely repeated verbatim and the vectors are large.
func (s *Service) GenerateEmbeddings(ctx context.Context, opts EmbeddingOptions) (*EmbeddingResult, error) {
	start := time.Now()

	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}
	if opts.Model == "" {
		return nil, gwerr.New(gwerr.CodeUnknown, "", "field 'model' is required", false)
	}
	if len(opts.Input) == 0 {
		return nil, gwerr.New(gwerr.CodeUnknown, "", "field 'input' must not be empty", false)
	}

	mc, ok := s.catalog.Lookup(opts.Model)
	if !ok || !mc.Embedding {
		return nil, gwerr.ModelNotConfigured(opts.Model)
	}

	if err := s.admit(ctx, opts.Model); err != nil {
		s.observeDenied(RequestOptions{Model: opts.Model, RequestID: opts.RequestID}, err, start)
		return nil, err
	}

	prov, ok := s.providers[mc.Provider]
	if !ok {
		return nil, gwerr.New(gwerr.CodeServiceUnavailable, mc.Provider,
			fmt.Sprintf("provider %q is not configured", mc.Provider), false)
	}
	embedder, ok := prov.(providers.EmbeddingProvider)
	if !ok {
		return nil, gwerr.New(gwerr.CodeModelNotConfigured, mc.Provider,
			fmt.Sprintf("provider %q does not support embeddings", mc.Provider), false)
	}

	s.log.InfoContext(ctx, "embedding_request",
		slog.String("request_id", opts.RequestID),
		slog.String("model", opts.Model),
		slog.String("provider", mc.Provider),
		slog.Int("inputs", len(opts.Input)),
	)

	provCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	resp, err := embedder.Embed(provCtx, &providers.EmbeddingRequest{
		Input:     opts.Input,
		Model:     opts.Model,
		RequestID: opts.RequestID,
	})
	if err != nil {
		gw := gwerr.Classify(err, mc.Provider)
		s.log.ErrorContext(ctx, "embedding_error",
			slog.String("request_id", opts.RequestID),
			slog.String("provider", mc.Provider),
			slog.String("code", string(gw.Code)),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordError(mc.Provider, string(gw.Code))
		}
		s.observeRequest(mc.Provider, opts.Model, gwerr.HTTPStatus(gw.Code), start)
		return nil, gw
	}

	promptTokens := resp.Usage.PromptTokens
	if promptTokens == 0 {
		// Some providers omit usage for embeddings; estimate so billing
		// never records a free request.
		for _, in := range opts.Input {
			promptTokens += (len(in) + 3) / 4
		}
	}

	usage := UsageRecord{PromptTokens: promptTokens, TotalTokens: promptTokens}
	breakdown := cost.Compute(mc, promptTokens, 0)

	s.settle(ctx, opts.Model, usage, breakdown)
	s.record(ctx, auditRecord{
		operation: "embedding",
		provider:  mc.Provider,
		model:     opts.Model,
		requestID: opts.RequestID,
		caller:    opts.User,
		input:     serializeInputs(opts.Input),
		usage:     usage,
		costUSD:   breakdown.Total,
		status:    200,
	}, start)

	return &EmbeddingResult{
		Model:     resp.Model,
		Provider:  mc.Provider,
		Data:      resp.Data,
		Usage:     usage,
		Cost:      breakdown,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// serializeInputs renders the embedding input for the audit trail. The
// resulting vectors are not audited: they are large and carry no text.
func serializeInputs(inputs []string) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return ""
	}
	return string(data)
}
