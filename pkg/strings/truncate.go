package strings

import (
	"strings"
)

// DefaultMaxLen is the default maximum length of single-line strings in
// error messages and log output.
const DefaultMaxLen = 512

// MinTruncateLen is the minimum maxLen value for Truncate.
// Values smaller than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// Truncate shortens s to maxLen runes and collapses it onto one line,
// adding "..." if truncated. maxLen is clamped to MinTruncateLen.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// redactKeep is how many leading characters of a secret Redact shows.
const redactKeep = 4

// Redact masks a secret for logging, keeping only a short prefix when
// the secret is long enough that the prefix reveals little.
func Redact(secret string) string {
	runes := []rune(secret)
	switch {
	case len(runes) == 0:
		return ""
	case len(runes) <= 3*redactKeep:
		return "****"
	default:
		return string(runes[:redactKeep]) + "****"
	}
}
