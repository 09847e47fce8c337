package audit

import "strings"

// RedactionMarker replaces the value of every sensitive field.
const RedactionMarker = "[REDACTED]"

// Field-name fragments whose values are never persisted. Matching is
// case-insensitive substring matching so password/newPassword/password_hash
// all hit.
var sensitiveFragments = []string{
	"password",
	"secret",
	"token",
	"backup_code",
	"backupcode",
	"private_key",
	"api_key",
	"otp",
}

// Redact returns a deep copy of fields with sensitive values replaced.
// Redaction happens here, before serialization, never as a later pass over
// stored data.
func Redact(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitive(k) {
			out[k] = RedactionMarker
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return Redact(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
