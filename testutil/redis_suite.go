//go:build test

package testutil

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	redisutil "github.com/seabase/kiwi-relay/redis"
)

// RedisTestSuite provides a shared miniredis instance for tests. Embed it
// in a suite to get a client in s.RedisClient; data is flushed before each
// test.
//
//	type StoreSuite struct {
//	    testutil.RedisTestSuite
//	}
//
//	func TestStoreSuite(t *testing.T) {
//	    suite.Run(t, new(StoreSuite))
//	}
type RedisTestSuite struct {
	suite.Suite

	MiniRedis   *miniredis.Miniredis
	RedisClient *redisutil.Client
	Ctx         context.Context
}

// SetupSuite starts one miniredis for the whole suite.
func (s *RedisTestSuite) SetupSuite() {
	mr, err := miniredis.Run()
	s.Require().NoError(err, "failed to create miniredis")
	s.MiniRedis = mr

	s.Ctx = context.Background()

	client, err := redisutil.NewClient(s.Ctx, redisutil.ClientConfig{
		URL: "redis://" + mr.Addr(),
	})
	s.Require().NoError(err, "failed to create Redis client")
	s.RedisClient = client
}

// SetupTest flushes all data for isolation.
func (s *RedisTestSuite) SetupTest() {
	s.MiniRedis.FlushAll()
}

// TearDownSuite closes the client and miniredis.
func (s *RedisTestSuite) TearDownSuite() {
	if s.RedisClient != nil {
		_ = s.RedisClient.Close()
	}
	if s.MiniRedis != nil {
		s.MiniRedis.Close()
	}
}

// RequireStreamLength asserts the number of entries in a stream.
func (s *RedisTestSuite) RequireStreamLength(stream string, want int64) {
	n, err := s.RedisClient.XLen(s.Ctx, stream).Result()
	s.Require().NoError(err, "failed to read stream length")
	s.Require().Equal(want, n, "stream %q length", stream)
}

// GetKeyCount returns the total number of keys in Redis.
func (s *RedisTestSuite) GetKeyCount() int {
	keys, err := s.RedisClient.Keys(s.Ctx, "*").Result()
	s.Require().NoError(err, "failed to get keys")
	return len(keys)
}
