package llm

import "strings"

// ExtractJSON finds the JSON object in a model response. It checks for:
// 1. Markdown code blocks (```json ... ``` or ``` ... ```)
// 2. Raw JSON object, or one embedded in prose (first { to last })
// An empty string means no object was found.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "```"); idx >= 0 {
		start := strings.Index(raw[idx:], "\n")
		if start >= 0 {
			start += idx + 1
			if end := strings.Index(raw[start:], "```"); end >= 0 {
				return strings.TrimSpace(raw[start : start+end])
			}
		}
	}

	braceStart := strings.Index(raw, "{")
	braceEnd := strings.LastIndex(raw, "}")
	if braceStart >= 0 && braceEnd > braceStart {
		return raw[braceStart : braceEnd+1]
	}
	return ""
}
