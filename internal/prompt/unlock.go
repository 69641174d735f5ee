package prompt

import (
	"crypto/subtle"
	"strings"
)

// CodeUnlocked reports whether the key presented with a request matches the
// configured unlock key. An empty configured key never unlocks.
func CodeUnlocked(presented, configured string) bool {
	configured = strings.TrimSpace(configured)
	presented = strings.TrimSpace(presented)
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// ForMessage classifies message and applies the code unlock decision.
func ForMessage(message string, codeUnlocked bool) Flags {
	f := Classify(message)
	f.Code = codeUnlocked
	return f
}
