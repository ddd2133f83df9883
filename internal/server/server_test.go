package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/ai-gateway/internal/audit"
	"github.com/nulpointcorp/ai-gateway/internal/catalog"
	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// --- helpers ----------------------------------------------------------------

type funcProvider struct {
	name       string
	completeFn func(ctx context.Context, req *providers.Request) (*providers.Response, error)
}

func (p *funcProvider) Name() string { return p.name }
func (p *funcProvider) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	return p.completeFn(ctx, req)
}
func (p *funcProvider) HealthCheck(context.Context) error { return nil }

func okProvider(name string) *funcProvider {
	return &funcProvider{
		name: name,
		completeFn: func(_ context.Context, req *providers.Request) (*providers.Response, error) {
			return &providers.Response{
				ID:           "resp-1",
				Model:        req.Model,
				Content:      "hello from " + name,
				FinishReason: "stop",
				Usage:        providers.Usage{PromptTokens: 10, CompletionTokens: 5},
			}, nil
		},
	}
}

func newTestGateway(t *testing.T, provs map[string]providers.Provider) *gateway.Service {
	t.Helper()
	reg, err := catalog.New(nil)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	svc := gateway.New(context.Background(), reg, provs, gateway.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(svc.Close)
	return svc
}

// serveAPI starts the full server (router + middleware chain) on an in-memory
// listener and returns an HTTP client routed to it.
func serveAPI(t *testing.T, gw *gateway.Service) *http.Client {
	t.Helper()
	return serveAPIWith(t, gw, Options{})
}

func serveAPIWith(t *testing.T, gw *gateway.Service, opts Options) *http.Client {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(gw, opts)
	ln := fasthttputil.NewInmemoryListener()

	go func() {
		_ = fasthttp.Serve(ln, srv.Handler())
	}()
	t.Cleanup(func() { ln.Close() })

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func postJSON(t *testing.T, client *http.Client, path, body string) *http.Response {
	t.Helper()
	resp, err := client.Post("http://gw"+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("parse body %q: %v", data, err)
	}
}

// --- chat completions -------------------------------------------------------

func TestChatCompletions_OK(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, map[string]providers.Provider{"openai": okProvider("openai")}))

	resp := postJSON(t, client, "/v1/chat/completions",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if resp.Header.Get("X-Response-Time") == "" {
		t.Error("missing X-Response-Time header")
	}

	var out gateway.CompletionResponse
	decodeBody(t, resp, &out)
	if out.Content != "hello from openai" {
		t.Errorf("content = %q", out.Content)
	}
	if out.Provider != "openai" {
		t.Errorf("provider = %q", out.Provider)
	}
	if out.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", out.Usage.TotalTokens)
	}
}

func TestChatCompletions_InvalidJSON(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, nil))

	resp := postJSON(t, client, "/v1/chat/completions", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatCompletions_MissingModel(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, nil))

	resp := postJSON(t, client, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatCompletions_UnknownModelEnvelope(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, map[string]providers.Provider{"openai": okProvider("openai")}))

	resp := postJSON(t, client, "/v1/chat/completions",
		`{"model":"no-such-model","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	var envelope struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	decodeBody(t, resp, &envelope)
	if envelope.Error.Code != "MODEL_NOT_CONFIGURED" {
		t.Errorf("code = %q, want MODEL_NOT_CONFIGURED", envelope.Error.Code)
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	chunks := make(chan providers.StreamChunk, 3)
	chunks <- providers.StreamChunk{Content: "hel"}
	chunks <- providers.StreamChunk{Content: "lo", FinishReason: "stop"}
	close(chunks)

	prov := &funcProvider{
		name: "openai",
		completeFn: func(_ context.Context, req *providers.Request) (*providers.Response, error) {
			return &providers.Response{ID: "r", Model: req.Model, Stream: chunks}, nil
		},
	}
	client := serveAPI(t, newTestGateway(t, map[string]providers.Provider{"openai": prov}))

	resp := postJSON(t, client, "/v1/chat/completions",
		`{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	var events []string
	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		events = append(events, payload)
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("bad SSE payload %q: %v", payload, err)
		}
		for _, c := range chunk.Choices {
			content.WriteString(c.Delta.Content)
		}
	}
	if len(events) == 0 || events[len(events)-1] != "[DONE]" {
		t.Errorf("stream did not terminate with [DONE]: %v", events)
	}
	if content.String() != "hello" {
		t.Errorf("streamed content = %q, want hello", content.String())
	}
}

// --- embeddings -------------------------------------------------------------

type embedProvider struct{ *funcProvider }

func (p *embedProvider) Embed(_ context.Context, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	data := make([]providers.EmbeddingData, len(req.Input))
	for i := range req.Input {
		data[i] = providers.EmbeddingData{Index: i, Embedding: []float32{0.5}}
	}
	return &providers.EmbeddingResponse{
		Model: req.Model,
		Data:  data,
		Usage: providers.Usage{PromptTokens: 4},
	}, nil
}

func TestEmbeddings_StringAndArrayInput(t *testing.T) {
	prov := &embedProvider{okProvider("openai")}
	client := serveAPI(t, newTestGateway(t, map[string]providers.Provider{"openai": prov}))

	for _, body := range []string{
		`{"model":"text-embedding-3-small","input":"hello"}`,
		`{"model":"text-embedding-3-small","input":["hello","world"]}`,
	} {
		resp := postJSON(t, client, "/v1/embeddings", body)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("body %s: status = %d, want 200", body, resp.StatusCode)
			continue
		}
		var out gateway.EmbeddingResult
		decodeBody(t, resp, &out)
		if len(out.Data) == 0 {
			t.Errorf("body %s: no vectors returned", body)
		}
	}
}

func TestEmbeddings_BadInput(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, nil))

	for _, body := range []string{
		`{"model":"text-embedding-3-small"}`,
		`{"model":"text-embedding-3-small","input":[]}`,
		`{"model":"text-embedding-3-small","input":42}`,
		`{"input":"hello"}`,
	} {
		resp := postJSON(t, client, "/v1/embeddings", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

// --- token counting ---------------------------------------------------------

func TestCountTokens_Estimate(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, map[string]providers.Provider{"openai": okProvider("openai")}))

	resp := postJSON(t, client, "/v1/tokens/count",
		`{"model":"gpt-4","messages":[{"role":"user","content":"twelve chars"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out gateway.TokenCount
	decodeBody(t, resp, &out)
	if out.Tokens == 0 {
		t.Error("token count = 0 for non-empty prompt")
	}
	if out.Method != "estimate" || !out.Estimated {
		t.Errorf("method = %q estimated = %v, want estimate/true", out.Method, out.Estimated)
	}
}

// --- status endpoints -------------------------------------------------------

func TestHealthAndReadiness(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, map[string]providers.Provider{"openai": okProvider("openai")}))

	// The first health probe runs synchronously at startup, but give the
	// snapshot a moment under race.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := client.Get("http://gw/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		var out struct {
			Status    string `json:"status"`
			Providers map[string]struct {
				Status    string  `json:"status"`
				LatencyMs int64   `json:"latency_ms"`
				ErrorRate float64 `json:"error_rate"`
			} `json:"providers"`
		}
		decodeBody(t, resp, &out)
		resp.Body.Close()
		if out.Status == "ok" {
			oa, ok := out.Providers["openai"]
			if !ok {
				t.Error("openai missing from providers map")
			} else if oa.Status != "ok" || oa.ErrorRate != 0 {
				t.Errorf("openai health = %+v", oa)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health never became ok: %+v", out)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := client.Get("http://gw/readiness")
	if err != nil {
		t.Fatalf("GET /readiness: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readiness status = %d, want 200", resp.StatusCode)
	}
}

func TestAuditLookupEndpoints(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	store := audit.NewRedisStore(rdb)
	e := audit.Entry{
		ID:        uuid.New(),
		RequestID: "req-7",
		Operation: "completion",
		Provider:  "openai",
		Model:     "gpt-4",
		Output:    "hello",
		Status:    200,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.WriteBatch(context.Background(), []audit.Entry{e}); err != nil {
		t.Fatalf("write: %v", err)
	}

	client := serveAPIWith(t, newTestGateway(t, nil), Options{AuditStore: store})

	resp, err := client.Get("http://gw/v1/audit/recent")
	if err != nil {
		t.Fatalf("GET /v1/audit/recent: %v", err)
	}
	var recent struct {
		Entries []audit.Entry `json:"entries"`
	}
	decodeBody(t, resp, &recent)
	resp.Body.Close()
	if len(recent.Entries) != 1 || recent.Entries[0].RequestID != "req-7" {
		t.Fatalf("recent = %+v", recent.Entries)
	}

	resp, err = client.Get("http://gw/v1/audit/" + e.ID.String())
	if err != nil {
		t.Fatalf("GET entry: %v", err)
	}
	var got audit.Entry
	decodeBody(t, resp, &got)
	resp.Body.Close()
	if got.ID != e.ID || got.Output != "hello" {
		t.Errorf("entry = %+v", got)
	}

	resp, err = client.Get("http://gw/v1/audit/not-a-uuid")
	if err != nil {
		t.Fatalf("GET bad id: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}

	resp, err = client.Get("http://gw/v1/audit/" + uuid.NewString())
	if err != nil {
		t.Fatalf("GET unknown id: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", resp.StatusCode)
	}
}

func TestBudgetEndpoint_NotConfigured(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, nil))

	resp, err := client.Get("http://gw/v1/budget")
	if err != nil {
		t.Fatalf("GET /v1/budget: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 when budget tracking is off", resp.StatusCode)
	}
}

// --- middleware -------------------------------------------------------------

func TestMiddleware_RequestIDPassthrough(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, nil))

	req, _ := http.NewRequest(http.MethodGet, "http://gw/health", nil)
	req.Header.Set("X-Request-ID", "test-id-42")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "test-id-42" {
		t.Errorf("X-Request-ID = %q, want test-id-42", got)
	}
}

func TestMiddleware_SecurityHeaders(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, nil))

	resp, err := client.Get("http://gw/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	for header, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestMiddleware_CORSPreflight(t *testing.T) {
	client := serveAPI(t, newTestGateway(t, nil))

	req, _ := http.NewRequest(http.MethodOptions, "http://gw/v1/chat/completions", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestRecovery_PanickingHandler(t *testing.T) {
	handler := applyMiddleware(func(ctx *fasthttp.RequestCtx) {
		panic("boom")
	}, recovery)

	var ctx fasthttp.RequestCtx
	handler(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("status = %d, want 500", ctx.Response.StatusCode())
	}
	if !bytes.Contains(ctx.Response.Body(), []byte("internal server error")) {
		t.Errorf("body = %s", ctx.Response.Body())
	}
}
