//go:build test

package cmd

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seabase/kiwi-relay/config"
	"github.com/seabase/kiwi-relay/donation"
	"github.com/seabase/kiwi-relay/relay"
	"github.com/seabase/kiwi-relay/server"
)

func TestMachineConfig_Defaults(t *testing.T) {
	require.Equal(t, relay.DefaultMachineConfig(), machineConfig(config.DefaultConfig().Relay))
}

func TestApplyReload_RateLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := server.NewRateLimiter(zerolog.Nop(), server.RateLimiterConfig{RequestsPerMinute: 60, Burst: 1}, clock)

	ok, _ := limiter.Allow("10.0.0.1")
	require.True(t, ok)
	ok, _ = limiter.Allow("10.0.0.1")
	require.False(t, ok)

	next := config.DefaultConfig()
	next.RateLimit.Enabled = false
	applyReload(zerolog.Nop(), &next, "info", limiter)

	for i := 0; i < 10; i++ {
		ok, _ = limiter.Allow("10.0.0.1")
		require.True(t, ok)
	}

	require.NotPanics(t, func() { applyReload(zerolog.Nop(), &next, "info", nil) })
}

func TestPreview(t *testing.T) {
	require.Empty(t, preview(nil))
	require.Equal(t, "hi", preview([]json.RawMessage{json.RawMessage(`{"role":"user","content":"hi"}`)}))
	require.Equal(t, "(non-text content)", preview([]json.RawMessage{json.RawMessage(`{"content":[{"type":"text"}]}`)}))

	long := strings.Repeat("é", previewChars+5)
	got := preview([]json.RawMessage{json.RawMessage(`{"content":"` + long + `"}`)})
	require.Equal(t, strings.Repeat("é", previewChars)+"...", got)
}

func TestListDonations(t *testing.T) {
	store := donation.NewMemoryStore(10)
	require.NoError(t, store.Append(context.Background(), donation.Donation{
		ID:         "d-1",
		ReceivedAt: time.Unix(1_700_000_000, 0),
		Messages:   []json.RawMessage{json.RawMessage(`{"role":"user","content":"hi"}`)},
	}))

	require.NoError(t, listDonations(context.Background(), store, 5, false))
	require.NoError(t, listDonations(context.Background(), store, 5, true))
}

func TestUniversal_NilClient(t *testing.T) {
	require.Nil(t, universal(nil))
}
