package donation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/seabase/kiwi-relay/observability"
	redisutil "github.com/seabase/kiwi-relay/redis"
)

const (
	fieldID   = "id"
	fieldData = "data"
)

// RedisStore keeps donations in a Redis stream capped with MAXLEN. Each
// entry carries the record as (optionally zstd-compressed) JSON.
type RedisStore struct {
	client     redis.UniversalClient
	stream     string
	maxRecords int64
	codec      *Codec
}

// NewRedisStore creates a store on stream. The client is owned by the
// caller.
func NewRedisStore(client redis.UniversalClient, stream string, maxRecords int, codec *Codec) *RedisStore {
	return &RedisStore{
		client:     client,
		stream:     stream,
		maxRecords: int64(maxRecords),
		codec:      codec,
	}
}

func (s *RedisStore) Append(ctx context.Context, d Donation) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode donation: %w", err)
	}

	timer := observability.NewTimer()
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxRecords,
		Values: map[string]any{
			fieldID:   d.ID,
			fieldData: s.codec.Compress(payload),
		},
	}).Err()
	timer.ObserveRedisOperation("xadd", redisutil.Status(err))
	if err != nil {
		if redisutil.IsOOMError(err) {
			return fmt.Errorf("redis is out of memory: %w", err)
		}
		return fmt.Errorf("failed to append donation: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, n int) ([]Donation, error) {
	if n <= 0 {
		return nil, nil
	}

	timer := observability.NewTimer()
	entries, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(n)).Result()
	timer.ObserveRedisOperation("xrevrange", redisutil.Status(err))
	if err != nil {
		return nil, fmt.Errorf("failed to read donations: %w", err)
	}

	records := make([]Donation, 0, len(entries))
	for _, entry := range entries {
		record, err := s.decode(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entry.ID, err)
		}
		records = append(records, record)
	}
	slices.Reverse(records)
	return records, nil
}

func (s *RedisStore) decode(entry redis.XMessage) (Donation, error) {
	raw, ok := entry.Values[fieldData].(string)
	if !ok {
		return Donation{}, fmt.Errorf("missing %q field", fieldData)
	}

	payload, err := s.codec.Decompress([]byte(raw))
	if err != nil {
		return Donation{}, err
	}

	var record Donation
	if err := json.Unmarshal(payload, &record); err != nil {
		return Donation{}, fmt.Errorf("failed to decode donation: %w", err)
	}
	return record, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	timer := observability.NewTimer()
	n, err := s.client.XLen(ctx, s.stream).Result()
	timer.ObserveRedisOperation("xlen", redisutil.Status(err))
	if err != nil {
		return 0, fmt.Errorf("failed to count donations: %w", err)
	}
	return int(n), nil
}

// Close releases the codec; the client stays open.
func (s *RedisStore) Close() error {
	s.codec.Close()
	return nil
}
