package masking

import "strings"

const maskToken = "****"

// MaskReference redacts a payment reference or bank account while keeping a
// short suffix so the entry can still be matched against statements.
func MaskReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskFields returns a copy of input with the named string keys masked.
func MaskFields(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return input
	}
	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[key] = struct{}{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		if _, ok := sensitive[key]; ok {
			if s, isString := value.(string); isString {
				masked[key] = MaskReference(s)
				continue
			}
		}
		masked[key] = value
	}
	return masked
}
