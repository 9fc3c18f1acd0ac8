package redis

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// IsOOMError reports whether err is Redis refusing a write because used
// memory is above maxmemory. It clears once memory is freed, so callers
// may retry.
func IsOOMError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "OOM")
}

// IsNil reports whether err is the go-redis "key does not exist" reply.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Status labels an operation result for metrics.
func Status(err error) string {
	switch {
	case err == nil, IsNil(err):
		return "ok"
	case IsOOMError(err):
		return "oom"
	default:
		return "error"
	}
}
