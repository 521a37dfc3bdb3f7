// Package masking redacts identifiers before they are written to the audit trail.
package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a value while keeping its last four characters. A
// leading "<prefix>_" segment, as in bank reference schemes, is kept intact.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskFields returns a copy of input with the named string fields masked.
func MaskFields(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}
	masked := make(map[string]any, len(input))
	for key, value := range input {
		masked[key] = value
	}
	for _, key := range keys {
		if str, ok := masked[key].(string); ok {
			masked[key] = MaskSecret(str)
		}
	}
	return masked
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
