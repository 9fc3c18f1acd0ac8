package donation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrInvalidMessages is returned when a donation body has no messages
// array.
var ErrInvalidMessages = errors.New("invalid messages format")

// Donation is one stored conversation.
type Donation struct {
	ID         string            `json:"id"`
	ReceivedAt time.Time         `json:"received_at"`
	Messages   []json.RawMessage `json:"messages"`
}

// Store keeps the most recent donations. Implementations trim to their
// configured capacity on Append.
type Store interface {
	// Append adds d as the newest record.
	Append(ctx context.Context, d Donation) error
	// Recent returns up to n of the newest records, oldest first.
	Recent(ctx context.Context, n int) ([]Donation, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	Close() error
}

// DecodeMessages reads a {"messages": [...]} body.
func DecodeMessages(body io.Reader) ([]json.RawMessage, error) {
	var req struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessages, err)
	}

	trimmed := bytes.TrimSpace(req.Messages)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidMessages
	}

	var messages []json.RawMessage
	if err := json.Unmarshal(trimmed, &messages); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessages, err)
	}
	return messages, nil
}

// MemoryStore keeps donations in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	records    []Donation
	maxRecords int
}

// NewMemoryStore creates a store holding at most maxRecords records.
func NewMemoryStore(maxRecords int) *MemoryStore {
	return &MemoryStore{maxRecords: maxRecords}
}

func (s *MemoryStore) Append(_ context.Context, d Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, d)
	if over := len(s.records) - s.maxRecords; s.maxRecords > 0 && over > 0 {
		s.records = append([]Donation(nil), s.records[over:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, n int) ([]Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := max(len(s.records)-n, 0)
	return append([]Donation(nil), s.records[start:]...), nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Close() error { return nil }
