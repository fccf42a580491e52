package ai

import "strings"

// CleanJSONResponse strips markdown code fences from JSON responses.
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// ExtractJSON attempts to extract valid JSON from a potentially messy AI response.
// It tries direct parsing first, then strips markdown fences, then finds JSON delimiters.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if looksLikeJSON(raw) {
		return raw
	}

	cleaned := CleanJSONResponse(raw)
	if looksLikeJSON(cleaned) {
		return cleaned
	}

	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			if candidate := raw[start : end+1]; looksLikeJSON(candidate) {
				return candidate
			}
		}
	}

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			if candidate := raw[start : end+1]; looksLikeJSON(candidate) {
				return candidate
			}
		}
	}

	return cleaned
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return (strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")) ||
		(strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"))
}
