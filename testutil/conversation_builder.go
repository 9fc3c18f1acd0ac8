//go:build test

package testutil

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
)

var words = []string{
	"relay", "browser", "stream", "token", "kiwi", "socket", "model", "chunk",
	"prompt", "answer", "window", "signal", "quiet", "orbit", "garden", "river",
}

// ConversationBuilder builds deterministic chat transcripts. The same seed
// always produces the same conversation.
//
//	msgs := testutil.NewConversationBuilder(7).WithTurns(6).Build()
type ConversationBuilder struct {
	seed      int
	turns     int
	wordCount int
	overrides map[int]string
}

// NewConversationBuilder creates a builder for seed with 4 turns of 12
// words each.
func NewConversationBuilder(seed int) *ConversationBuilder {
	return &ConversationBuilder{seed: seed, turns: 4, wordCount: 12, overrides: map[int]string{}}
}

// WithTurns sets the number of messages.
func (b *ConversationBuilder) WithTurns(n int) *ConversationBuilder {
	b.turns = n
	return b
}

// WithWords sets the number of words per message.
func (b *ConversationBuilder) WithWords(n int) *ConversationBuilder {
	b.wordCount = n
	return b
}

// WithContent replaces the content of message i.
func (b *ConversationBuilder) WithContent(i int, content string) *ConversationBuilder {
	b.overrides[i] = content
	return b
}

// Build returns the messages as raw JSON objects.
func (b *ConversationBuilder) Build() []json.RawMessage {
	rng := rand.New(rand.NewPCG(uint64(b.seed), uint64(b.seed)*31+7))

	messages := make([]json.RawMessage, 0, b.turns)
	for i := range b.turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}

		// Draw the words even when overridden so later messages stay the
		// same.
		parts := make([]string, b.wordCount)
		for j := range parts {
			parts[j] = words[rng.IntN(len(words))]
		}
		content, ok := b.overrides[i]
		if !ok {
			content = strings.Join(parts, " ")
		}

		raw, err := json.Marshal(map[string]string{"role": role, "content": content})
		if err != nil {
			panic(fmt.Sprintf("testutil: marshal message: %v", err))
		}
		messages = append(messages, raw)
	}
	return messages
}

// TestKey returns a deterministic browser key of the usual length.
func TestKey(seed int) string {
	return fmt.Sprintf("kiwi-test-key-%08d", seed)
}
