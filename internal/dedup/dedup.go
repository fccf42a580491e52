// Package dedup decides which collected items are new for a day.
package dedup

import (
	"github.com/thinkscotty/newsroom/internal/models"
)

// KeySet returns the identity keys of items.
func KeySet(items []models.NewsItem) map[string]struct{} {
	keys := make(map[string]struct{}, len(items))
	for _, it := range items {
		keys[it.IdentityKey()] = struct{}{}
	}
	return keys
}

// Dedupe drops candidates whose identity key is in stored and repeated
// candidates, keeping the first occurrence. It does not modify its inputs.
func Dedupe(candidates []models.NewsItem, stored map[string]struct{}) []models.NewsItem {
	seen := make(map[string]struct{}, len(candidates))
	var out []models.NewsItem
	for _, it := range candidates {
		k := it.IdentityKey()
		if _, ok := stored[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Deduper is Dedupe plus an optional near-duplicate title check.
type Deduper struct {
	titles *Checker
}

// New returns a Deduper. A threshold of zero or less keeps identity link-only.
func New(titleThreshold float64) *Deduper {
	d := &Deduper{}
	if titleThreshold > 0 {
		d.titles = NewChecker(titleThreshold, 3)
	}
	return d
}

// Filter returns the candidates that are new relative to existing.
func (d *Deduper) Filter(candidates, existing []models.NewsItem) []models.NewsItem {
	novel := Dedupe(candidates, KeySet(existing))
	if d.titles == nil || len(novel) == 0 {
		return novel
	}

	known := make([]map[string]struct{}, 0, len(existing)+len(novel))
	for _, it := range existing {
		known = append(known, d.titles.Trigrams(it.Title))
	}

	out := novel[:0:0]
	for _, it := range novel {
		grams := d.titles.Trigrams(it.Title)
		if d.titles.TooSimilar(grams, known) {
			continue
		}
		known = append(known, grams)
		out = append(out, it)
	}
	return out
}
