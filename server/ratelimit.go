package server

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"github.com/seabase/kiwi-relay/logging"
)

// RateLimiterConfig configures per-client rate limiting.
type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	TrustForwardedFor bool
	IdleTTL           time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	logger   logging.Logger
	clock    clockwork.Clock
	trustXFF bool
	idleTTL  time.Duration

	mu    sync.RWMutex
	limit rate.Limit
	burst int

	clients *xsync.Map[string, *clientLimiter]
}

// NewRateLimiter creates a limiter. A zero burst allows a full minute of
// requests at once.
func NewRateLimiter(logger logging.Logger, config RateLimiterConfig, clock clockwork.Clock) *RateLimiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}

	l := &RateLimiter{
		logger:   logging.ForComponent(logger, logging.ComponentRateLimiter),
		clock:    clock,
		trustXFF: config.TrustForwardedFor,
		idleTTL:  config.IdleTTL,
		clients:  xsync.NewMap[string, *clientLimiter](),
	}
	l.limit, l.burst = limitFor(config.RequestsPerMinute, config.Burst)
	return l
}

func limitFor(rpm, burst int) (rate.Limit, int) {
	if rpm <= 0 {
		return rate.Inf, 0
	}
	if burst <= 0 {
		burst = rpm
	}
	return rate.Every(time.Minute / time.Duration(rpm)), burst
}

func (l *RateLimiter) current() (rate.Limit, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limit, l.burst
}

// SetLimit changes the rate for new and existing clients.
func (l *RateLimiter) SetLimit(rpm, burst int) {
	limit, b := limitFor(rpm, burst)

	l.mu.Lock()
	changed := limit != l.limit || b != l.burst
	l.limit, l.burst = limit, b
	l.mu.Unlock()

	if !changed {
		return
	}

	now := l.clock.Now()
	l.clients.Range(func(_ string, c *clientLimiter) bool {
		c.limiter.SetLimitAt(now, limit)
		c.limiter.SetBurstAt(now, b)
		return true
	})
	l.logger.Info().Int("requests_per_minute", rpm).Int("burst", b).Msg("rate limit updated")
}

// Allow takes one token for client. When the bucket is empty it returns
// false and how long until a token is available.
func (l *RateLimiter) Allow(client string) (bool, time.Duration) {
	now := l.clock.Now()
	c, loaded := l.clients.LoadOrCompute(client, func() (*clientLimiter, bool) {
		limit, burst := l.current()
		return &clientLimiter{limiter: rate.NewLimiter(limit, burst)}, false
	})
	if !loaded {
		rateLimitClients.Inc()
	}
	c.lastSeen.Store(now.UnixNano())

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// ClientIP returns the address requests are limited by: the first
// X-Forwarded-For hop when the proxy is trusted, the peer address
// otherwise.
func (l *RateLimiter) ClientIP(r *http.Request) string {
	if l.trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := l.ClientIP(r)
		ok, retryAfter := l.Allow(client)
		if !ok {
			rateLimitedTotal.Inc()
			l.logger.Debug().
				Str(logging.FieldRemoteAddr, client).
				Str(logging.FieldPath, r.URL.Path).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			WriteError(w, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run evicts idle clients until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := l.clock.NewTicker(l.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := l.Evict(); n > 0 {
				l.logger.Debug().Int(logging.FieldCount, n).Msg("evicted idle rate limiters")
			}
		}
	}
}

// Evict drops clients idle for longer than the TTL and returns how many
// were dropped.
func (l *RateLimiter) Evict() int {
	cutoff := l.clock.Now().Add(-l.idleTTL).UnixNano()
	evicted := 0

	l.clients.Range(func(key string, _ *clientLimiter) bool {
		l.clients.Compute(key, func(c *clientLimiter, loaded bool) (*clientLimiter, xsync.ComputeOp) {
			if !loaded || c.lastSeen.Load() >= cutoff {
				return c, xsync.CancelOp
			}
			evicted++
			return nil, xsync.DeleteOp
		})
		return true
	})

	rateLimitClients.Sub(float64(evicted))
	return evicted
}

// Size returns the number of tracked clients.
func (l *RateLimiter) Size() int {
	return l.clients.Size()
}
