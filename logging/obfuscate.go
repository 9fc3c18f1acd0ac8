package logging

import "strings"

const maskedKeySuffix = 10

// ObfuscateKey hides the tail of a peer key so it can be logged. The first
// max(6, len-10) characters stay visible and ten asterisks follow. Keys of
// ten characters or fewer are masked completely.
func ObfuscateKey(key string) string {
	runes := []rune(key)
	if len(runes) <= maskedKeySuffix {
		return strings.Repeat("*", len(runes))
	}
	keep := max(6, len(runes)-maskedKeySuffix)
	return string(runes[:keep]) + strings.Repeat("*", maskedKeySuffix)
}
