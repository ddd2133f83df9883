package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	entryTTL    = 24 * time.Hour
	recentKey   = "audit:recent"
	recentCap   = 1000
	storePrefix = "audit:entry:"
)

// RedisStore keeps the last 24 hours of entries in Redis for fast operator
// lookup. It is a hot cache over the durable ClickHouse trail, not a system
// of record: entries expire and the recent list is capped.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) WriteBatch(ctx context.Context, entries []Entry) error {
	pipe := s.rdb.Pipeline()
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("audit: marshal entry %s: %w", e.ID, err)
		}
		pipe.Set(ctx, storePrefix+e.ID.String(), raw, entryTTL)
		pipe.LPush(ctx, recentKey, e.ID.String())
	}
	pipe.LTrim(ctx, recentKey, 0, recentCap-1)
	pipe.Expire(ctx, recentKey, entryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns one entry by ID, or redis.Nil via the wrapped error when it
// has expired.
func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	raw, err := s.rdb.Get(ctx, storePrefix+id.String()).Bytes()
	if err != nil {
		return Entry{}, fmt.Errorf("audit: get %s: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("audit: decode %s: %w", id, err)
	}
	return e, nil
}

// Recent returns up to n of the newest entries, newest first. IDs whose
// payload already expired are skipped.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 || n > recentCap {
		n = recentCap
	}
	ids, err := s.rdb.LRange(ctx, recentKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, storePrefix+id).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("audit: recent get %s: %w", id, err)
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return nil }
