package security

import (
	"strings"
	"unicode/utf8"

	"github.com/jdziat/docpipeline/pkg/core"
)

// Hard limits on what the job core stores and runs.
const (
	MaxJobKindLength      = 255
	MaxUniqueKeyLength    = 255
	MaxPayloadSize        = 1 << 20 // bytes of encoded payload
	MaxErrorMessageLength = 4096    // runes kept in last_error
	MaxAttempts           = 100
	MaxConcurrency        = 1000
)

// ValidateJobKind accepts kinds such as "document-conversion" or "notice.v2":
// a leading ASCII letter followed by letters, digits, '-', '_' or '.'.
func ValidateJobKind(kind string) error {
	if len(kind) > MaxJobKindLength {
		return core.ErrJobKindTooLong
	}
	for i := 0; i < len(kind); i++ {
		if !kindByte(kind[i], i == 0) {
			return core.ErrInvalidJobKind
		}
	}
	if kind == "" {
		return core.ErrInvalidJobKind
	}
	return nil
}

func kindByte(c byte, first bool) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return true
	case first:
		return false
	case '0' <= c && c <= '9', c == '-', c == '_', c == '.':
		return true
	}
	return false
}

// ValidateUniqueKey bounds the length of a deduplication key.
func ValidateUniqueKey(key string) error {
	if len(key) > MaxUniqueKeyLength {
		return core.ErrUniqueKeyTooLong
	}
	return nil
}

// SanitizeErrorMessage prepares a handler error for last_error: control
// characters other than newline, carriage return and tab are dropped, and the
// result is cut to MaxErrorMessageLength runes with a trailing "...".
func SanitizeErrorMessage(msg string) string {
	clean := strings.Map(func(r rune) rune {
		if r < ' ' && r != '\n' && r != '\r' && r != '\t' || r == 0x7f {
			return -1
		}
		return r
	}, msg)

	if utf8.RuneCountInString(clean) <= MaxErrorMessageLength {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:MaxErrorMessageLength-3]) + "..."
}

// ClampAttempts keeps an attempt ceiling in [1, MaxAttempts].
func ClampAttempts(n int) int {
	return clamp(n, MaxAttempts)
}

// ClampConcurrency keeps a pool size in [1, MaxConcurrency].
func ClampConcurrency(n int) int {
	return clamp(n, MaxConcurrency)
}

func clamp(n, hi int) int {
	return min(max(n, 1), hi)
}
