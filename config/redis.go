package config

import "time"

// RedisConfig contains the Redis connection used by the redis donation
// backend.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss://, unix://, redis-sentinel://, redis-cluster://
	URL string `yaml:"url"`

	// PoolSize is the maximum number of socket connections.
	// Set to 0 to use the go-redis default (10 x GOMAXPROCS).
	PoolSize int `yaml:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections kept open.
	MinIdleConns int `yaml:"min_idle_conns,omitempty"`

	// HealthCheckInterval is how often the health monitor pings Redis and
	// samples INFO MEMORY. Zero disables the monitor.
	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty"`

	// MemoryWarningPercent logs a warning once used_memory crosses this
	// share of maxmemory.
	MemoryWarningPercent float64 `yaml:"memory_warning_percent,omitempty"`
}
