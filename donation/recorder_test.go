//go:build test

package donation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	kiwitest "github.com/seabase/kiwi-relay/testutil"
)

var errStoreDown = errors.New("store down")

type failingStore struct{ MemoryStore }

func (f *failingStore) Append(context.Context, Donation) error { return errStoreDown }

func newTestRecorder(store Store, config RecorderConfig) *Recorder {
	return NewRecorder(zerolog.Nop(), store, clockwork.NewFakeClock(), "memory", config)
}

func TestRecorder_SkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)
	recorder := newTestRecorder(store, DefaultRecorderConfig())

	conversation := kiwitest.NewConversationBuilder(1).Build()
	stored := testutil.ToFloat64(donationsTotal.WithLabelValues("stored"))

	result, err := recorder.Donate(ctx, conversation)
	require.NoError(t, err)
	require.Equal(t, ResultStored, result)

	result, err = recorder.Donate(ctx, conversation)
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, result)

	result, err = recorder.Donate(ctx, kiwitest.NewConversationBuilder(2).Build())
	require.NoError(t, err)
	require.Equal(t, ResultStored, result)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, stored+2, testutil.ToFloat64(donationsTotal.WithLabelValues("stored")))
}

func TestRecorder_KeepsLeadingMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)
	recorder := newTestRecorder(store, DefaultRecorderConfig())

	conversation := kiwitest.NewConversationBuilder(3).WithTurns(20).Build()
	_, err := recorder.Donate(ctx, conversation)
	require.NoError(t, err)

	records, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, conversation[:15], records[0].Messages)
	require.NotEmpty(t, records[0].ID)

	// The truncated record still matches the full conversation.
	result, err := recorder.Donate(ctx, conversation)
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, result)
}

func TestRecorder_ComparesOnlyRecentWindow(t *testing.T) {
	ctx := context.Background()
	config := DefaultRecorderConfig()
	config.CompareWindow = 1
	recorder := newTestRecorder(NewMemoryStore(1000), config)

	a := kiwitest.NewConversationBuilder(10).Build()
	b := kiwitest.NewConversationBuilder(11).Build()

	for _, conversation := range [][]json.RawMessage{a, b, a} {
		result, err := recorder.Donate(ctx, conversation)
		require.NoError(t, err)
		require.Equal(t, ResultStored, result)
	}
}

func TestRecorder_EmptyConversationsAreNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	recorder := newTestRecorder(NewMemoryStore(1000), DefaultRecorderConfig())

	for range 2 {
		result, err := recorder.Donate(ctx, []json.RawMessage{})
		require.NoError(t, err)
		require.Equal(t, ResultStored, result)
	}
}

func TestRecorder_StoreError(t *testing.T) {
	recorder := newTestRecorder(&failingStore{}, DefaultRecorderConfig())

	_, err := recorder.Donate(context.Background(), kiwitest.NewConversationBuilder(1).Build())
	require.ErrorIs(t, err, errStoreDown)
}
