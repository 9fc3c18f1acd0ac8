package donation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/seabase/kiwi-relay/config"
)

// OpenStore builds the store selected by cfg.Backend. redisClient is only
// used by the redis backend.
func OpenStore(ctx context.Context, cfg config.DonationsConfig, redisClient redis.UniversalClient) (Store, error) {
	switch cfg.Backend {
	case config.DonationBackendMemory, "":
		return NewMemoryStore(cfg.MaxRecords), nil

	case config.DonationBackendSQLite:
		return OpenSQLiteStore(ctx, cfg.SQLitePath, cfg.MaxRecords)

	case config.DonationBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis donation backend needs a redis client")
		}
		codec, err := NewCodec(CompressionLevel(cfg.Compression))
		if err != nil {
			return nil, err
		}
		return NewRedisStore(redisClient, cfg.RedisStream, cfg.MaxRecords, codec), nil

	default:
		return nil, fmt.Errorf("unknown donation backend %q", cfg.Backend)
	}
}

// RecorderConfigFrom extracts the recorder limits from cfg.
func RecorderConfigFrom(cfg config.DonationsConfig) RecorderConfig {
	return RecorderConfig{
		CompareWindow:       cfg.CompareWindow,
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxStoredMessages:   cfg.MaxStoredMessages,
	}
}
