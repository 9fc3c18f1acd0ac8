//go:build test

package donation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seabase/kiwi-relay/testutil"
)

func msg(content string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"role": "user", "content": content})
	return raw
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		message json.RawMessage
		want    string
	}{
		{"punctuation and case", msg("  Hello,   WORLD!!  "), "hello world"},
		{"tabs and newlines", msg("a\t\tb\n\nc"), "a b c"},
		{"non ascii letters dropped", msg("café au lait"), "caf au lait"},
		{"underscore kept", msg("snake_case"), "snake_case"},
		{"non string content", json.RawMessage(`{"role":"user","content":[{"type":"text"}]}`), ""},
		{"missing content", json.RawMessage(`{"role":"user"}`), ""},
		{"not an object", json.RawMessage(`"hello"`), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, normalizeContent(tt.message))
		})
	}

	require.Len(t, normalizeContent(msg(strings.Repeat("a", 1500))), 1000)
}

func TestStringSimilarity(t *testing.T) {
	require.Equal(t, 1.0, stringSimilarity("same", "same"))
	require.Equal(t, 0.0, stringSimilarity("", "x"))
	require.InDelta(t, 2.0/3.0, stringSimilarity("abc", "abd"), 1e-9)
	require.InDelta(t, 0.5, stringSimilarity("abcd", "ab"), 1e-9)

	// Contained but shifted: positional matches are poor, containment
	// lifts the score.
	require.Equal(t, 0.8, stringSimilarity("abcdefghijkl", "xxabcdefghijkl"))
	// Too short for the containment rule.
	require.Less(t, stringSimilarity("abcdef", "xxabcdef"), 0.8)
}

func TestSimilarity(t *testing.T) {
	base := testutil.NewConversationBuilder(1).WithTurns(4).Build()

	t.Run("identical", func(t *testing.T) {
		require.Equal(t, 1.0, similarity(newFingerprint(base), newFingerprint(base)))
	})

	t.Run("formatting differences", func(t *testing.T) {
		a := []json.RawMessage{msg("Hello there!"), msg("How are you?")}
		b := []json.RawMessage{msg("hello   there"), msg("HOW ARE YOU")}
		require.Equal(t, 1.0, similarity(newFingerprint(a), newFingerprint(b)))
	})

	t.Run("one message rewritten", func(t *testing.T) {
		other := testutil.NewConversationBuilder(1).WithTurns(4).WithContent(2, "something else entirely").Build()
		require.InDelta(t, 0.75, similarity(newFingerprint(base), newFingerprint(other)), 1e-9)
	})

	t.Run("length skew", func(t *testing.T) {
		long := testutil.NewConversationBuilder(1).WithTurns(10).Build()
		require.Equal(t, 0.0, similarity(newFingerprint(base), newFingerprint(long)))
	})

	t.Run("empty conversations", func(t *testing.T) {
		require.Equal(t, 0.0, similarity(newFingerprint(nil), newFingerprint(nil)))
	})

	t.Run("only the first five messages count", func(t *testing.T) {
		a := testutil.NewConversationBuilder(2).WithTurns(8).Build()
		b := testutil.NewConversationBuilder(2).WithTurns(8).WithContent(6, "diverges late").Build()
		require.Equal(t, 1.0, similarity(newFingerprint(a), newFingerprint(b)))
	})
}
