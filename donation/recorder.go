package donation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/seabase/kiwi-relay/logging"
)

// Result is what happened to a donation.
type Result int

const (
	ResultStored Result = iota
	ResultDuplicate
)

func (r Result) String() string {
	if r == ResultDuplicate {
		return "duplicate"
	}
	return "stored"
}

// RecorderConfig holds the deduplication and retention limits.
type RecorderConfig struct {
	// CompareWindow is how many of the newest records a donation is
	// compared against.
	CompareWindow int
	// SimilarityThreshold marks a donation as duplicate.
	SimilarityThreshold float64
	// MaxStoredMessages is how many leading messages are kept.
	MaxStoredMessages int
}

// DefaultRecorderConfig returns the standard limits.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		CompareWindow:       100,
		SimilarityThreshold: 0.90,
		MaxStoredMessages:   15,
	}
}

// Recorder stores donated conversations, skipping near duplicates of
// recent ones.
type Recorder struct {
	logger  logging.Logger
	store   Store
	clock   clockwork.Clock
	config  RecorderConfig
	backend string

	// mu makes the duplicate check and the append atomic.
	mu sync.Mutex
}

// NewRecorder creates a recorder over store. backend labels metrics.
func NewRecorder(logger logging.Logger, store Store, clock clockwork.Clock, backend string, config RecorderConfig) *Recorder {
	return &Recorder{
		logger:  logging.ForComponent(logger, logging.ComponentDonations),
		store:   store,
		clock:   clock,
		config:  config,
		backend: backend,
	}
}

// Donate stores messages unless a recent record is at least
// SimilarityThreshold similar.
func (r *Recorder) Donate(ctx context.Context, messages []json.RawMessage) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.clock.Now()
	recent, err := r.store.Recent(ctx, r.config.CompareWindow)
	storeOperationDuration.WithLabelValues(r.backend, "recent").Observe(r.clock.Since(start).Seconds())
	if err != nil {
		donationsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to load recent donations: %w", err)
	}
	similarityChecks.Observe(float64(len(recent)))

	candidate := newFingerprint(messages)
	for _, record := range recent {
		if score := similarity(candidate, newFingerprint(record.Messages)); score >= r.config.SimilarityThreshold {
			donationsTotal.WithLabelValues(ResultDuplicate.String()).Inc()
			r.logger.Debug().
				Str("duplicate_of", record.ID).
				Float64("similarity", score).
				Msg("duplicate donation skipped")
			return ResultDuplicate, nil
		}
	}

	stored := messages
	if r.config.MaxStoredMessages > 0 && len(stored) > r.config.MaxStoredMessages {
		stored = stored[:r.config.MaxStoredMessages]
	}
	record := Donation{
		ID:         uuid.NewString(),
		ReceivedAt: r.clock.Now().UTC(),
		Messages:   stored,
	}

	start = r.clock.Now()
	err = r.store.Append(ctx, record)
	storeOperationDuration.WithLabelValues(r.backend, "append").Observe(r.clock.Since(start).Seconds())
	if err != nil {
		donationsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to save donation: %w", err)
	}

	donationsTotal.WithLabelValues(ResultStored.String()).Inc()
	r.logger.Info().
		Str("donation_id", record.ID).
		Int(logging.FieldCount, len(stored)).
		Msg("donation stored")
	return ResultStored, nil
}

// Recent returns up to n of the newest records, oldest first.
func (r *Recorder) Recent(ctx context.Context, n int) ([]Donation, error) {
	return r.store.Recent(ctx, n)
}
