package ai

import (
	"fmt"
	"strings"

	"github.com/thinkscotty/newsroom/internal/models"
)

// maxPromptExcerpt bounds how much of each item description goes into a prompt.
const maxPromptExcerpt = 500

// ItemAnalysis is one element of the chunk response array.
type ItemAnalysis struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
	Insight string `json:"insight"`
}

// BuildChunkPrompt asks for a three-line summary and an insight per item,
// answered as a JSON array keyed by the 1-based item number.
func BuildChunkPrompt(items []models.NewsItem, language string) string {
	var sb strings.Builder

	sb.WriteString("You are an IT news analyst. Analyze each of the following news items from an IT trends perspective.\n\n")

	for i, it := range items {
		fmt.Fprintf(&sb, "--- Item %d ---\nTitle: %s\n", i+1, it.Title)
		if it.Source != "" {
			fmt.Fprintf(&sb, "Source: %s\n", it.Source)
		}
		if it.Description != "" {
			fmt.Fprintf(&sb, "Content: %s\n", truncateRunes(it.Description, maxPromptExcerpt))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, `For EVERY item above provide:
1. "summary": the key points in exactly 3 short lines separated by newlines
2. "insight": 2-3 sentences on what the item means for IT trends

Write in %s.

IMPORTANT: Return ONLY a valid JSON array with one object per item and no additional text, markdown, or explanation.

Format:
[
  {"index": 1, "summary": "line one\nline two\nline three", "insight": "Insight text..."}
]`, language)

	return sb.String()
}

// BuildNarrativePrompt asks for the markdown briefing of a day.
func BuildNarrativePrompt(date string, items []models.NewsItem, language string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "The following IT news items were collected on %s. Write a \"Today's key IT news briefing\" in markdown.\n\nNews:\n", date)
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, it.Title)
		if it.Summary != "" {
			fmt.Fprintf(&sb, "   Summary: %s\n", truncateRunes(strings.ReplaceAll(it.Summary, "\n", " "), 100))
		}
	}

	fmt.Fprintf(&sb, `
Requirements:
1. Identify the overall IT trends and main issues and write one coherent briefing
2. Use markdown (headings, lists, emphasis)
3. Organize it in 3-5 main sections
4. Keep each section short and clear
5. Write in %s

Respond with the markdown only.`, language)

	return sb.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
