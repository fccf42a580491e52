package collector

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

// Excerpt reduces an HTML description to plain text of at most maxRunes runes.
func Excerpt(s string, maxRunes int) string {
	if s == "" {
		return ""
	}
	text := cleanText(html.UnescapeString(stripPolicy.Sanitize(s)))
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
