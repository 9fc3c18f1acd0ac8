package redis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis client and remembers the pool size it was built
// with.
type Client struct {
	redis.UniversalClient
	poolSize int
}

// PoolSize returns the configured pool size.
func (c *Client) PoolSize() int {
	return c.poolSize
}

// ClientConfig contains configuration for creating a Redis client.
type ClientConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss:// (TLS), unix://, redis-sentinel://, redis-cluster://
	URL string

	// MaxRetries is the maximum number of retries before giving up.
	// Default: 3
	MaxRetries int

	// PoolSize is the maximum number of socket connections.
	// Default: go-redis default (10 per CPU)
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// PoolTimeout is how long to wait for a pooled connection.
	// Zero keeps the go-redis default.
	PoolTimeout time.Duration

	// ConnMaxIdleTime closes connections idle for longer than this.
	// Zero keeps the go-redis default.
	ConnMaxIdleTime time.Duration
}

// poolOptions are the settings shared by every client flavour.
type poolOptions struct {
	maxRetries      int
	poolSize        int
	minIdleConns    int
	poolTimeout     time.Duration
	connMaxIdleTime time.Duration
}

// NewClient creates a Redis client from the configuration and checks the
// connection with PING. Standalone, sentinel and cluster deployments are
// selected by URL scheme.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	pool := poolOptions{
		maxRetries:      cfg.MaxRetries,
		poolSize:        cfg.PoolSize,
		minIdleConns:    cfg.MinIdleConns,
		poolTimeout:     cfg.PoolTimeout,
		connMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	if pool.maxRetries <= 0 {
		pool.maxRetries = 3
	}

	var client redis.UniversalClient

	switch u.Scheme {
	case "redis", "rediss", "unix":
		opts, parseErr := redis.ParseURL(cfg.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", parseErr)
		}
		opts.MaxRetries = pool.maxRetries
		opts.MinIdleConns = pool.minIdleConns
		if pool.poolSize > 0 {
			opts.PoolSize = pool.poolSize
		}
		if pool.poolTimeout > 0 {
			opts.PoolTimeout = pool.poolTimeout
		}
		if pool.connMaxIdleTime > 0 {
			opts.ConnMaxIdleTime = pool.connMaxIdleTime
		}
		client = redis.NewClient(opts)

	case "redis-sentinel":
		client, err = newSentinelClient(u, pool)
		if err != nil {
			return nil, err
		}

	case "redis-cluster":
		client, err = newClusterClient(u, pool)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported redis URL scheme: %s", u.Scheme)
	}

	if err = client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{UniversalClient: client, poolSize: pool.poolSize}, nil
}

// newSentinelClient creates a Redis Sentinel client.
// URL format: redis-sentinel://[:password@]host1:port1,host2:port2/master_name[?db=N]
func newSentinelClient(u *url.URL, pool poolOptions) (redis.UniversalClient, error) {
	masterName := strings.TrimPrefix(u.Path, "/")
	if masterName == "" {
		return nil, fmt.Errorf("sentinel URL must include master name in path")
	}

	addrs := strings.Split(u.Host, ",")
	if len(addrs) == 0 || addrs[0] == "" {
		return nil, fmt.Errorf("sentinel URL must include at least one sentinel address")
	}

	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	db := 0
	if dbStr := u.Query().Get("db"); dbStr != "" {
		var err error
		db, err = strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("invalid db number: %w", err)
		}
	}

	opts := &redis.FailoverOptions{
		MasterName:      masterName,
		SentinelAddrs:   addrs,
		Password:        password,
		DB:              db,
		MaxRetries:      pool.maxRetries,
		PoolSize:        pool.poolSize,
		MinIdleConns:    pool.minIdleConns,
		PoolTimeout:     pool.poolTimeout,
		ConnMaxIdleTime: pool.connMaxIdleTime,
	}
	return redis.NewFailoverClient(opts), nil
}

// newClusterClient creates a Redis Cluster client.
// URL format: redis-cluster://[:password@]host1:port1,host2:port2
func newClusterClient(u *url.URL, pool poolOptions) (redis.UniversalClient, error) {
	addrs := strings.Split(u.Host, ",")
	if len(addrs) == 0 || addrs[0] == "" {
		return nil, fmt.Errorf("cluster URL must include at least one node address")
	}

	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	opts := &redis.ClusterOptions{
		Addrs:           addrs,
		Password:        password,
		MaxRetries:      pool.maxRetries,
		PoolSize:        pool.poolSize,
		MinIdleConns:    pool.minIdleConns,
		PoolTimeout:     pool.poolTimeout,
		ConnMaxIdleTime: pool.connMaxIdleTime,
	}
	return redis.NewClusterClient(opts), nil
}
