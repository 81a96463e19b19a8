package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of any sensitive attribute.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag attribute keys whose values must never reach a log
// sink: JWT secrets, webhook secrets, keystore passphrases, bearer tokens and
// provider signatures.
var sensitiveMarkers = []string{"secret", "passphrase", "password", "token", "signature", "authorization"}

// IsSensitive reports whether key names a credential.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskField builds a string attribute, hiding the value when the key is
// sensitive. Blank values pass through so a missing secret stays visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr is applied by the JSON handler to every attribute, so a secret
// logged by mistake under a sensitive key is still masked.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
