package relay

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Stats holds the process-wide relay counters.
type Stats struct {
	clock   clockwork.Clock
	started time.Time
	handled atomic.Int64
	chars   atomic.Int64
}

// StatsSnapshot is the body of GET /api/stats.
type StatsSnapshot struct {
	ConnectedUsers       int   `json:"connected_users"`
	TotalHandledMessages int64 `json:"total_handled_messages"`
	AverageMessageLength int64 `json:"average_message_length"`
	ServerUptime         int64 `json:"server_uptime"`
}

// NewStats starts counting from the clock's current time.
func NewStats(clock clockwork.Clock) *Stats {
	return &Stats{clock: clock, started: clock.Now()}
}

// RecordRequest counts one accepted completion request.
func (s *Stats) RecordRequest() {
	s.handled.Add(1)
}

// RecordChars adds generated characters.
func (s *Stats) RecordChars(n int) {
	s.chars.Add(int64(n))
}

// Snapshot returns the current counters. The average is
// round(chars / handled), and 0 before the first request.
func (s *Stats) Snapshot(connectedUsers int) StatsSnapshot {
	handled := s.handled.Load()
	var average int64
	if handled > 0 {
		average = int64(math.Round(float64(s.chars.Load()) / float64(handled)))
	}

	return StatsSnapshot{
		ConnectedUsers:       connectedUsers,
		TotalHandledMessages: handled,
		AverageMessageLength: average,
		ServerUptime:         int64(math.Round(s.clock.Since(s.started).Seconds())),
	}
}
