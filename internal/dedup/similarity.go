package dedup

import (
	"strings"
	"unicode"
)

// Checker compares titles by character n-gram Jaccard similarity.
type Checker struct {
	threshold float64
	ngramSize int
}

func NewChecker(threshold float64, ngramSize int) *Checker {
	return &Checker{threshold: threshold, ngramSize: ngramSize}
}

// normalize lowercases, removes punctuation, and collapses whitespace.
func (c *Checker) normalize(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			sb.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// Trigrams extracts the character n-grams of text.
func (c *Checker) Trigrams(text string) map[string]struct{} {
	runes := []rune(c.normalize(text))
	set := make(map[string]struct{})
	for i := 0; i <= len(runes)-c.ngramSize; i++ {
		set[string(runes[i:i+c.ngramSize])] = struct{}{}
	}
	return set
}

// Jaccard computes |A ∩ B| / |A ∪ B|.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TooSimilar reports whether grams reaches the threshold against any of known.
// Titles too short to produce n-grams never match.
func (c *Checker) TooSimilar(grams map[string]struct{}, known []map[string]struct{}) bool {
	if len(grams) == 0 {
		return false
	}
	for _, k := range known {
		if len(k) > 0 && Jaccard(grams, k) >= c.threshold {
			return true
		}
	}
	return false
}
