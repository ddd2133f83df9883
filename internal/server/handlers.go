package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/pkg/gwerr"
)

type (
	// inboundChatRequest mirrors the OpenAI POST /v1/chat/completions body.
	inboundChatRequest struct {
		Model            string            `json:"model"`
		Messages         []gateway.Message `json:"messages"`
		Stream           bool              `json:"stream"`
		Temperature      float64           `json:"temperature"`
		MaxTokens        int               `json:"max_tokens"`
		TopP             float64           `json:"top_p"`
		FrequencyPenalty float64           `json:"frequency_penalty"`
		PresencePenalty  float64           `json:"presence_penalty"`
		Stop             []string          `json:"stop"`
		User             string            `json:"user"`
	}

	// inboundEmbeddingRequest mirrors POST /v1/embeddings. The "input" field
	// accepts a string or array of strings; we normalise to []string via
	// parseEmbeddingInput.
	inboundEmbeddingRequest struct {
		Model string          `json:"model"`
		Input json.RawMessage `json:"input"`
		User  string          `json:"user"`
	}

	inboundCountRequest struct {
		Model    string            `json:"model"`
		Messages []gateway.Message `json:"messages"`
	}
)

func (s *Server) handleChat(ctx *fasthttp.RequestCtx) {
	var req inboundChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		gwerr.WriteInvalidRequest(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if req.Model == "" {
		gwerr.WriteInvalidRequest(ctx, "field 'model' is required")
		return
	}
	if len(req.Messages) == 0 {
		gwerr.WriteInvalidRequest(ctx, "field 'messages' must not be empty")
		return
	}

	reqID, _ := ctx.UserValue("request_id").(string)
	opts := gateway.RequestOptions{
		Model:            req.Model,
		Messages:         req.Messages,
		Stream:           req.Stream,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
		User:             req.User,
		SkipCache:        noCacheRequested(ctx),
		RequestID:        reqID,
	}

	resp, err := s.gw.GenerateCompletion(ctx, opts)
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	if resp.Stream != nil {
		writeSSE(ctx, resp.ID, resp.Model, resp.Stream)
		return
	}

	writeJSON(ctx, resp)
}

func (s *Server) handleEmbeddings(ctx *fasthttp.RequestCtx) {
	var req inboundEmbeddingRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		gwerr.WriteInvalidRequest(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if req.Model == "" {
		gwerr.WriteInvalidRequest(ctx, "field 'model' is required")
		return
	}
	inputs, err := parseEmbeddingInput(req.Input)
	if err != nil {
		gwerr.WriteInvalidRequest(ctx, err.Error())
		return
	}

	reqID, _ := ctx.UserValue("request_id").(string)
	res, err := s.gw.GenerateEmbeddings(ctx, gateway.EmbeddingOptions{
		Model:     req.Model,
		Input:     inputs,
		User:      req.User,
		RequestID: reqID,
	})
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, res)
}

func (s *Server) handleCountTokens(ctx *fasthttp.RequestCtx) {
	var req inboundCountRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		gwerr.WriteInvalidRequest(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if req.Model == "" {
		gwerr.WriteInvalidRequest(ctx, "field 'model' is required")
		return
	}

	// Never fails; unknown models fall back to the character estimate.
	writeJSON(ctx, s.gw.CountTokens(ctx, req.Model, req.Messages))
}

func (s *Server) handleBudget(ctx *fasthttp.RequestCtx) {
	usage, err := s.gw.BudgetUsage(ctx)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, map[string]any{"periods": usage})
}

func (s *Server) handleRateLimits(ctx *fasthttp.RequestCtx) {
	statuses, err := s.gw.RateLimitStatus(ctx)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, map[string]any{"scopes": statuses})
}

// handleAuditRecent serves the newest audit entries from the Redis hot
// store. Only registered when the store is configured.
func (s *Server) handleAuditRecent(ctx *fasthttp.RequestCtx) {
	n := ctx.QueryArgs().GetUintOrZero("limit")
	entries, err := s.auditStore.Recent(ctx, n)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, map[string]any{"entries": entries})
}

func (s *Server) handleAuditEntry(ctx *fasthttp.RequestCtx) {
	idStr, _ := ctx.UserValue("id").(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		gwerr.WriteInvalidRequest(ctx, "invalid audit entry id")
		return
	}
	entry, err := s.auditStore.Get(ctx, id)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":{"message":"audit entry not found or expired","code":"UNKNOWN_ERROR"}}`)
			return
		}
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, entry)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	snap := s.gw.CheckHealth()
	writeJSON(ctx, map[string]any{
		"status":         snap.Status,
		"version":        s.version,
		"uptime_seconds": snap.UptimeSeconds,
		"providers":      snap.Providers,
		"cache":          snap.Cache,
	})
}

func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.gw.Ready() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

// writeError maps orchestrator errors to the HTTP envelope. Anything that is
// not a *gwerr.Error is a bug; it is logged and surfaced as UNKNOWN_ERROR.
func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error) {
	var gw *gwerr.Error
	if errors.As(err, &gw) {
		gwerr.Write(ctx, gw)
		return
	}
	s.log.Error("unclassified_error", slog.String("error", err.Error()))
	gwerr.Write(ctx, gwerr.New(gwerr.CodeUnknown, "", "internal error", false))
}

// noCacheRequested honours the standard Cache-Control request directives.
func noCacheRequested(ctx *fasthttp.RequestCtx) bool {
	cc := string(ctx.Request.Header.Peek("Cache-Control"))
	return strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store")
}

// parseEmbeddingInput converts the raw JSON "input" field into []string.
// The OpenAI API accepts either a bare string or an array of strings.
func parseEmbeddingInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("'input' is required")
	}
	// Try array first.
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return arr, nil
	}
	// Try bare string.
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if str == "" {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return []string{str}, nil
	}
	return nil, fmt.Errorf("'input' must be a string or array of strings")
}

// writeSSE streams completion chunks as Server-Sent Events and terminates
// with the [DONE] sentinel. Settlement for the request happens inside the
// orchestrator once the stream drains.
func writeSSE(ctx *fasthttp.RequestCtx, id, model string, stream <-chan providers.StreamChunk) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		for chunk := range stream {
			delta := map[string]any{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": time.Now().Unix(),
				"model":   model,
				"choices": []map[string]any{
					{
						"index": 0,
						"delta": map[string]string{"content": chunk.Content},
						"finish_reason": func() any {
							if chunk.FinishReason != "" {
								return chunk.FinishReason
							}
							return nil
						}(),
					},
				},
			}
			data, _ := json.Marshal(delta)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush() //nolint:errcheck
		}

		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
