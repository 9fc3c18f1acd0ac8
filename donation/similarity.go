package donation

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	// compareMessages is how many leading messages two conversations are
	// compared on.
	compareMessages = 5
	// maxNormalizedLength caps normalized content.
	maxNormalizedLength = 1000
	// messageMatchThreshold is the per-message similarity below which a
	// message pair counts as different.
	messageMatchThreshold = 0.85
	// maxLengthSkew is the largest relative difference in message count
	// for which two conversations are compared at all.
	maxLengthSkew = 0.3
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonWordChars  = regexp.MustCompile(`[^\w\s]`)
)

// fingerprint is the part of a conversation that deduplication looks at.
type fingerprint struct {
	count int
	heads []string
}

func newFingerprint(messages []json.RawMessage) fingerprint {
	n := min(len(messages), compareMessages)
	fp := fingerprint{count: len(messages), heads: make([]string, n)}
	for i := range n {
		fp.heads[i] = normalizeContent(messages[i])
	}
	return fp
}

// normalizeContent returns a message's content trimmed, lower-cased, with
// whitespace runs collapsed and everything but ASCII word characters and
// whitespace removed. Messages without string content normalize to "".
func normalizeContent(message json.RawMessage) string {
	var m struct {
		Content any `json:"content"`
	}
	if err := json.Unmarshal(message, &m); err != nil {
		return ""
	}
	content, _ := m.Content.(string)

	content = strings.ToLower(strings.TrimSpace(content))
	content = whitespaceRun.ReplaceAllString(content, " ")
	content = nonWordChars.ReplaceAllString(content, "")
	if len(content) > maxNormalizedLength {
		content = content[:maxNormalizedLength]
	}
	return content
}

// similarity scores two conversations between 0 and 1.
func similarity(a, b fingerprint) float64 {
	longest := max(a.count, b.count)
	if float64(abs(a.count-b.count)) > float64(longest)*maxLengthSkew {
		return 0
	}

	n := min(a.count, b.count, compareMessages)
	if n == 0 {
		return 0
	}

	var score float64
	for i := range n {
		s1, s2 := a.heads[i], b.heads[i]
		switch {
		case s1 == s2:
			score++
		case s1 != "" && s2 != "":
			if s := stringSimilarity(s1, s2); s > messageMatchThreshold {
				score += s
			}
		}
	}
	return score / float64(n)
}

// stringSimilarity is the share of positions holding the same byte,
// relative to the longer string. A shorter string of more than 10
// characters contained in the longer one scores at least 0.8.
func stringSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	maxLen := max(len(s1), len(s2))
	minLen := min(len(s1), len(s2))

	matches := 0
	for i := range minLen {
		if s1[i] == s2[i] {
			matches++
		}
	}
	ratio := float64(matches) / float64(maxLen)

	longer, shorter := s2, s1
	if len(s1) > len(s2) {
		longer, shorter = s1, s2
	}
	if len(shorter) > 10 && strings.Contains(longer, shorter) {
		return max(0.8, ratio)
	}
	return ratio
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
