// ABOUTME: Result size guard for model output stored on executions

package execution

import "unicode/utf8"

// Result limits. Results beyond either are cut to fit both.
const (
	DefaultMaxResultChars = 100000
	MaxResultBytes        = 1 << 20

	truncatedSizeSuffix   = "\n[TRUNCATED: Result exceeded size limit]"
	truncatedLengthSuffix = "\n[TRUNCATED: Result exceeded length limit]"
)

// TruncateResult caps s at maxChars characters, marking why it was cut.
// It reports whether truncation happened.
func TruncateResult(s string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		maxChars = DefaultMaxResultChars
	}

	suffix := ""
	switch {
	case len(s) > MaxResultBytes:
		suffix = truncatedSizeSuffix
	case utf8.RuneCountInString(s) > maxChars:
		suffix = truncatedLengthSuffix
	default:
		return s, false
	}

	return prefixWithin(s, maxChars, MaxResultBytes) + suffix, true
}

// prefixWithin returns the longest prefix of s holding at most maxRunes
// characters and maxBytes bytes, never splitting a character.
func prefixWithin(s string, maxRunes, maxBytes int) string {
	n := 0
	for pos, r := range s {
		if n == maxRunes || pos+utf8.RuneLen(r) > maxBytes {
			return s[:pos]
		}
		n++
	}
	return s
}

func (m *Manager) truncate(execID, text string) string {
	out, cut := TruncateResult(text, m.maxResultChars)
	if cut {
		m.logger.Warn("execution result truncated",
			"execution_id", execID,
			"original_bytes", len(text),
			"max_chars", m.maxResultChars,
		)
	}
	return out
}
