// Package server is the fasthttp transport in front of the orchestrator.
//
// It owns request parsing, the HTTP error envelope, SSE streaming, and the
// middleware chain (panic recovery, request IDs, timing, CORS, security
// headers). All gateway semantics live in internal/gateway; the server only
// translates between HTTP and the Service API.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/audit"
	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
)

// Options configures a Server. All fields except Gateway are optional.
type Options struct {
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	CORSOrigins []string
	Version     string

	// AuditStore enables the operator lookup endpoints under /v1/audit.
	AuditStore *audit.RedisStore

	// ReadTimeout / WriteTimeout bound the whole HTTP exchange. WriteTimeout
	// must exceed the provider timeout or long completions get cut off.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the gateway API over fasthttp.
type Server struct {
	gw         *gateway.Service
	log        *slog.Logger
	metrics    *metrics.Registry
	version    string
	auditStore *audit.RedisStore

	srv *fasthttp.Server
}

// New builds a Server around gw.
func New(gw *gateway.Service, opts Options) *Server {
	if gw == nil {
		panic("server: gateway must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		gw:         gw,
		log:        log,
		metrics:    opts.Metrics,
		version:    version,
		auditStore: opts.AuditStore,
	}

	r := router.New()
	r.POST("/v1/chat/completions", s.instrument("chat_completions", s.handleChat))
	r.POST("/v1/completions", s.instrument("completions", s.handleChat))
	r.POST("/v1/embeddings", s.instrument("embeddings", s.handleEmbeddings))
	r.POST("/v1/tokens/count", s.instrument("count_tokens", s.handleCountTokens))
	r.GET("/v1/budget", s.instrument("budget", s.handleBudget))
	r.GET("/v1/ratelimits", s.instrument("ratelimits", s.handleRateLimits))
	if opts.AuditStore != nil {
		r.GET("/v1/audit/recent", s.instrument("audit_recent", s.handleAuditRecent))
		r.GET("/v1/audit/{id}", s.instrument("audit_entry", s.handleAuditEntry))
	}
	r.GET("/health", s.handleHealth)
	r.GET("/readiness", s.handleReadiness)
	if opts.Metrics != nil {
		r.GET("/metrics", opts.Metrics.Handler())
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(opts.CORSOrigins),
		securityHeaders,
	)

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}

	s.srv = &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return s
}

// Handler exposes the fully wrapped request handler, used by tests to serve
// over an in-memory listener.
func (s *Server) Handler() fasthttp.RequestHandler { return s.srv.Handler }

// ListenAndServe blocks serving on addr (e.g. ":8080") until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("http_listen", slog.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// instrument wraps a handler with in-flight and end-to-end HTTP metrics.
// Streaming responses report their status line immediately; body size for
// them is unknown and recorded as -1.
func (s *Server) instrument(route string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if s.metrics == nil {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		reqBytes := len(ctx.PostBody())
		s.metrics.IncInFlight()
		defer func() {
			s.metrics.DecInFlight()
			respBytes := len(ctx.Response.Body())
			if ctx.Response.IsBodyStream() {
				respBytes = -1
			}
			s.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start), reqBytes, respBytes)
		}()
		next(ctx)
	}
}
