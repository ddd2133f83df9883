package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const auditTableDDL = `
CREATE TABLE IF NOT EXISTS audit_log (
	id                UUID,
	request_id        String,
	caller_id         String,
	operation         LowCardinality(String),
	provider          LowCardinality(String),
	model             LowCardinality(String),
	input             String,
	output            String,
	prompt_tokens     UInt32,
	completion_tokens UInt32,
	cost_usd          Float64,
	latency_ms        UInt32,
	cached            Bool,
	status            UInt16,
	error_code        LowCardinality(String),
	created_at        DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(created_at)
ORDER BY (created_at, model)
TTL toDateTime(created_at) + INTERVAL 90 DAY
`

// ClickHouseSink persists audit batches into the audit_log table. ClickHouse
// absorbs batched inserts cheaply, which matches the flush cadence upstream.
type ClickHouseSink struct {
	conn driver.Conn
}

// ClickHouseConfig carries the connection settings for the audit store.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseSink opens the connection, pings it, and ensures the table
// exists.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: clickhouse ping: %w", err)
	}
	if err := conn.Exec(ctx, auditTableDDL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: create audit_log: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

func (s *ClickHouseSink) WriteBatch(ctx context.Context, entries []Entry) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO audit_log")
	if err != nil {
		return fmt.Errorf("audit: prepare batch: %w", err)
	}
	for _, e := range entries {
		if err := batch.Append(
			e.ID,
			e.RequestID,
			e.CallerID,
			e.Operation,
			e.Provider,
			e.Model,
			e.Input,
			e.Output,
			e.PromptTokens,
			e.CompletionTokens,
			e.CostUSD,
			e.LatencyMs,
			e.Cached,
			e.Status,
			e.ErrorCode,
			e.CreatedAt,
		); err != nil {
			return fmt.Errorf("audit: append: %w", err)
		}
	}
	return batch.Send()
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
