package models

import (
	"sort"
	"time"
)

// DateLayout is the key format of every per-day record.
const DateLayout = "2006-01-02"

// Document keys of the three persisted documents.
const (
	FeedsDocument   = "feeds.json"
	ArchiveDocument = "news_data.json"
	StatsDocument   = "stats.json"
)

// ValidDate reports whether s is a well-formed calendar date key.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// DateOf formats t as a date key in loc (UTC when loc is nil).
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

type FeedSource struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// FeedRegistry is the persisted feed list.
type FeedRegistry struct {
	Feeds []FeedSource `json:"feeds"`
}

// Find returns the index of the feed named name, or -1.
func (r FeedRegistry) Find(name string) int {
	for i, f := range r.Feeds {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Enabled returns the feeds the collector should fetch.
func (r FeedRegistry) Enabled() []FeedSource {
	var out []FeedSource
	for _, f := range r.Feeds {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

type NewsItem struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Published   time.Time `json:"published"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Insight     string    `json:"insights,omitempty"`
}

// IdentityKey is the normalized link. Items with equal keys are the same item.
func (n NewsItem) IdentityKey() string {
	return IdentityKey(n.Link)
}

// Enriched reports whether the summarizer filled in the item.
func (n NewsItem) Enriched() bool {
	return n.Summary != ""
}

type DailyDigest struct {
	Date        string     `json:"date"`
	Summary     string     `json:"summary"`
	News        []NewsItem `json:"news"`
	CollectedAt time.Time  `json:"collected_at"`
}

// Keys returns the identity keys of the digest's items.
func (d DailyDigest) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(d.News))
	for _, n := range d.News {
		keys[n.IdentityKey()] = struct{}{}
	}
	return keys
}

// Merge appends items whose identity key is not yet present, preserving
// their order, and returns how many were added.
func (d *DailyDigest) Merge(items []NewsItem) int {
	keys := d.Keys()
	added := 0
	for _, n := range items {
		k := n.IdentityKey()
		if _, ok := keys[k]; ok {
			continue
		}
		keys[k] = struct{}{}
		d.News = append(d.News, n)
		added++
	}
	return added
}

// NewsArchive maps date keys to digests. It is the whole news_data.json document.
type NewsArchive map[string]DailyDigest

// Dates returns the archive's dates, newest first.
func (a NewsArchive) Dates() []string {
	dates := make([]string, 0, len(a))
	for d := range a {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// Prune drops digests dated before cutoff and returns how many were removed.
func (a NewsArchive) Prune(cutoff string) int {
	removed := 0
	for d := range a {
		if d < cutoff {
			delete(a, d)
			removed++
		}
	}
	return removed
}

type VisitorStats struct {
	DailyVisitors map[string]int      `json:"daily_visitors"`
	TotalVisitors int                 `json:"total_visitors"`
	LastUpdated   time.Time           `json:"last_updated"`
	Sessions      map[string][]string `json:"sessions,omitempty"`
}

func NewVisitorStats() VisitorStats {
	return VisitorStats{
		DailyVisitors: make(map[string]int),
		Sessions:      make(map[string][]string),
	}
}

// Recount restores TotalVisitors == sum(DailyVisitors).
func (s *VisitorStats) Recount() {
	total := 0
	for _, c := range s.DailyVisitors {
		total += c
	}
	s.TotalVisitors = total
}
