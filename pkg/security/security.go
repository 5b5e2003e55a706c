package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/durable-kernel/pkg/core"
)

// Limits
const (
	// MaxNameLength is the maximum length for task, job, and queue names
	MaxNameLength = 255

	// MaxPayloadSize is the maximum size in bytes for an encoded job payload (1MB)
	MaxPayloadSize = 1 << 20

	// MaxAttempts is the hard limit for delivery attempts per job
	MaxAttempts = 100

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validName matches alphanumeric, hyphens, underscores, dots and colons
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.:]*$`)

// ValidateName validates a task or job name
func ValidateName(name string) error {
	if name == "" {
		return core.ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return core.ErrNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidName
	}
	return nil
}

// ValidatePayload checks the encoded payload size
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return core.ErrInvalidPayload
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Drop null bytes and control characters, keep whitespace
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts keeps the attempt count within [1, MaxAttempts]
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}
