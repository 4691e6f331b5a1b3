package privacy

import "regexp"

// privateTag matches <private>...</private> blocks, across lines, shortest first.
var privateTag = regexp.MustCompile(`(?is)<private>.*?</private>`)

// StripPrivateTags removes every <private> block the user marked as not to be remembered.
func StripPrivateTags(text string) string {
	if text == "" {
		return text
	}
	return privateTag.ReplaceAllString(text, "")
}

// Sanitize strips private blocks, then redacts secrets.
func Sanitize(text string) string {
	return RedactSecrets(StripPrivateTags(text))
}

// SanitizeValue applies Sanitize to every string inside a decoded JSON value.
// Maps and slices are copied; other values are returned unchanged.
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return Sanitize(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = SanitizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
