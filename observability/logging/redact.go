package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are log fields that may carry key material or other secrets a
// signing service must never emit.
var sensitiveKeys = map[string]struct{}{
	"privatekey": {},
	"key":        {},
	"keystore":   {},
	"passphrase": {},
	"secret":     {},
	"signature":  {},
	"token":      {},
}

// IsSensitive reports whether a log key must be masked before emission.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// Field returns a slog.Attr, redacting the value when the key is sensitive.
// The original key casing is preserved for readability.
func Field(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
