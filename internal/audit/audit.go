// Package audit implements a non-blocking, batched audit trail for gateway
// requests.
//
// Entries are written to an internal buffered channel and flushed in batches
// by a background goroutine, so auditing never blocks the request hot path.
// If the channel fills up (> 10 000 entries), new entries are dropped and
// counted in Dropped. Batches fan out to one or more sinks; a sink failure
// is logged and never propagates to the caller.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Entry is one audited gateway request. RequestID correlates the entry with
// transport logs; CallerID is the opaque caller identity; Input and Output
// carry the serialized prompt and the response text so the trail can answer
// who asked what and what came back.
type Entry struct {
	ID               uuid.UUID `json:"id"`
	RequestID        string    `json:"request_id"`
	CallerID         string    `json:"caller_id,omitempty"`
	Operation        string    `json:"operation"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Input            string    `json:"input"`
	Output           string    `json:"output"`
	PromptTokens     uint32    `json:"prompt_tokens"`
	CompletionTokens uint32    `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMs        uint32    `json:"latency_ms"`
	Cached           bool      `json:"cached"`
	Status           uint16    `json:"status"`
	ErrorCode        string    `json:"error_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Sink persists flushed batches. Implementations must tolerate concurrent
// batches and treat writes as best effort.
type Sink interface {
	WriteBatch(ctx context.Context, entries []Entry) error
	Close() error
}

// Logger buffers entries and flushes them to the configured sinks.
type Logger struct {
	ch        chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	sinks   []Sink
	log     *slog.Logger
}

// New starts the flush goroutine. ctx bounds sink writes; it should outlive
// the logger and be cancelled only after Close returns.
func New(ctx context.Context, log *slog.Logger, sinks ...Sink) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("audit: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if len(sinks) == 0 {
		sinks = []Sink{NewSlogSink(log)}
	}

	l := &Logger{
		ch:      make(chan Entry, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		sinks:   sinks,
		log:     log,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Record enqueues an entry without blocking. Entries with a zero ID or
// timestamp are stamped here so callers only fill what they know.
func (l *Logger) Record(entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.dropped, 1)
	}
}

// Dropped returns the number of entries lost to backpressure.
func (l *Logger) Dropped() int64 {
	return atomic.LoadInt64(&l.dropped)
}

// Close drains the channel, flushes the final batch, and closes the sinks.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()

	var firstErr error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, s := range l.sinks {
			if err := s.WriteBatch(ctx, batch); err != nil {
				l.log.ErrorContext(ctx, "audit sink write failed",
					slog.Int("entries", len(batch)),
					slog.String("error", err.Error()),
				)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}
