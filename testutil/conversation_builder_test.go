//go:build test

package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationBuilder_Deterministic(t *testing.T) {
	a := NewConversationBuilder(42).WithTurns(6).Build()
	b := NewConversationBuilder(42).WithTurns(6).Build()
	c := NewConversationBuilder(43).WithTurns(6).Build()

	require.Len(t, a, 6)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestConversationBuilder_Overrides(t *testing.T) {
	msgs := NewConversationBuilder(1).WithTurns(2).WithContent(1, "fixed").Build()

	var second struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(msgs[1], &second))
	require.Equal(t, "assistant", second.Role)
	require.Equal(t, "fixed", second.Content)
}

func TestTestKey(t *testing.T) {
	require.Equal(t, TestKey(3), TestKey(3))
	require.NotEqual(t, TestKey(3), TestKey(4))
	require.Greater(t, len(TestKey(1)), 10)
}
