// Package registry maps opaque user keys to the live browser connection
// registered under them.
package registry

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	pond "github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/seabase/kiwi-relay/duplex"
	"github.com/seabase/kiwi-relay/logging"
)

// ErrNotFound is returned by Lookup when no connection is registered under
// a key.
var ErrNotFound = errors.New("no connection registered for key")

// Entry is one registered connection.
type Entry struct {
	Key         string
	Conn        duplex.Transport
	ConnectedAt time.Time

	lastHeartbeat atomic.Int64
}

// LastHeartbeat returns the time of the last heartbeat, or the
// registration time if none has arrived yet.
func (e *Entry) LastHeartbeat() time.Time {
	return time.Unix(0, e.lastHeartbeat.Load())
}

// Config configures the registry.
type Config struct {
	// SupersedeGrace is how long a replaced connection stays open before it
	// is closed.
	SupersedeGrace time.Duration
}

// Registry holds at most one entry per key. Every operation touches a
// single key and is atomic for that key.
type Registry struct {
	logger  logging.Logger
	config  Config
	clock   clockwork.Clock
	pool    pond.Pool
	entries *xsync.Map[string, *Entry]
}

// New creates a registry. Superseded connections are closed on pool.
func New(logger logging.Logger, config Config, clock clockwork.Clock, pool pond.Pool) *Registry {
	return &Registry{
		logger:  logging.ForComponent(logger, logging.ComponentRegistry),
		config:  config,
		clock:   clock,
		pool:    pool,
		entries: xsync.NewMap[string, *Entry](),
	}
}

var _ duplex.Registrar = (*Registry)(nil)

// Register stores conn under key, replacing any previous entry. A previous
// connection with a different ID is closed after the grace period; the
// close is fire-and-forget and its errors are ignored.
func (r *Registry) Register(key string, conn duplex.Transport) {
	now := r.clock.Now()
	entry := &Entry{Key: key, Conn: conn, ConnectedAt: now}
	entry.lastHeartbeat.Store(now.UnixNano())

	var previous *Entry
	r.entries.Compute(key, func(old *Entry, loaded bool) (*Entry, xsync.ComputeOp) {
		previous = nil
		if loaded {
			previous = old
		}
		return entry, xsync.UpdateOp
	})

	operationsTotal.WithLabelValues("register").Inc()
	connectedPeers.Set(float64(r.entries.Size()))

	if previous != nil && previous.Conn.ID() != conn.ID() {
		r.supersede(previous)
	}
}

func (r *Registry) supersede(old *Entry) {
	operationsTotal.WithLabelValues("supersede").Inc()
	logger := logging.ForPeer(r.logger, logging.ComponentRegistry, old.Key).
		With().Str(logging.FieldConnID, old.Conn.ID()).Logger()
	logger.Info().Msg("replacing existing connection")

	r.pool.Submit(func() {
		<-r.clock.After(r.config.SupersedeGrace)
		if err := old.Conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("failed to close superseded connection")
		}
	})
}

// Get returns the entry registered under key.
func (r *Registry) Get(key string) (*Entry, bool) {
	return r.entries.Load(key)
}

// Lookup returns the live transport registered under key, or ErrNotFound.
// A connection whose read loop already ended counts as gone even before its
// disconnect removes the entry.
func (r *Registry) Lookup(key string) (duplex.Transport, error) {
	entry, ok := r.entries.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	select {
	case <-entry.Conn.Done():
		return nil, ErrNotFound
	default:
	}
	return entry.Conn, nil
}

// Remove deletes the entry for key only if it still holds the connection
// identified by connID. It reports whether an entry was deleted; a stale
// disconnect of a superseded connection returns false.
func (r *Registry) Remove(key, connID string) bool {
	removed := false
	r.entries.Compute(key, func(old *Entry, loaded bool) (*Entry, xsync.ComputeOp) {
		if !loaded || old.Conn.ID() != connID {
			return old, xsync.CancelOp
		}
		removed = true
		return nil, xsync.DeleteOp
	})

	if removed {
		operationsTotal.WithLabelValues("remove").Inc()
	} else {
		operationsTotal.WithLabelValues("remove_stale").Inc()
	}
	connectedPeers.Set(float64(r.entries.Size()))
	return removed
}

// TouchHeartbeat records a heartbeat for key. Unknown keys are ignored.
func (r *Registry) TouchHeartbeat(key string) {
	if entry, ok := r.entries.Load(key); ok {
		entry.lastHeartbeat.Store(r.clock.Now().UnixNano())
	}
}

// Size returns the number of registered keys.
func (r *Registry) Size() int {
	return r.entries.Size()
}

// Range calls fn for every entry until fn returns false.
func (r *Registry) Range(fn func(*Entry) bool) {
	r.entries.Range(func(_ string, entry *Entry) bool {
		return fn(entry)
	})
}

// ObfuscatedKeys lists the registered keys in log-safe form, sorted.
func (r *Registry) ObfuscatedKeys() []string {
	keys := make([]string, 0, r.entries.Size())
	r.entries.Range(func(key string, _ *Entry) bool {
		keys = append(keys, logging.ObfuscateKey(key))
		return true
	})
	sort.Strings(keys)
	return keys
}
