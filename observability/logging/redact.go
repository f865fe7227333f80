package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in
// logs. Bearer tokens, signatures, and key material must never appear in a
// log line, even at debug level.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"token":      {},
	"signature":  {},
	"passphrase": {},
	"secret":     {},
	"privatekey": {},
}

// IsSensitive reports whether values logged under the key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values.
// Empty values are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr whose value is masked whenever the key is
// sensitive. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
