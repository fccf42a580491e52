package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tracking params removed", "https://example.com/a?utm_source=rss&utm_medium=feed", "https://example.com/a"},
		{"keeps real params", "https://example.com/a?id=7&fbclid=xyz", "https://example.com/a?id=7"},
		{"fragment dropped", "https://example.com/a#section", "https://example.com/a"},
		{"trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"root kept bare", "https://example.com/", "https://example.com"},
		{"host lowercased", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"whitespace", "  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeLink(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityKey_QueryVariantsMatch(t *testing.T) {
	a := NewsItem{Title: "A", Link: "https://news.example.com/story/1"}
	b := NewsItem{Title: "A (updated)", Link: "https://news.example.com/story/1/?utm_campaign=x#top"}
	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
}

func TestDailyDigest_Merge(t *testing.T) {
	d := DailyDigest{Date: "2024-05-01", News: []NewsItem{
		{Title: "one", Link: "https://e.com/1"},
	}}

	added := d.Merge([]NewsItem{
		{Title: "one again", Link: "https://e.com/1?utm_source=x"},
		{Title: "two", Link: "https://e.com/2"},
		{Title: "two dup", Link: "https://e.com/2/"},
		{Title: "three", Link: "https://e.com/3"},
	})

	assert.Equal(t, 2, added)
	require.Len(t, d.News, 3)
	assert.Equal(t, "one", d.News[0].Title)
	assert.Equal(t, "two", d.News[1].Title)
	assert.Equal(t, "three", d.News[2].Title)
}

func TestNewsArchive_Decode(t *testing.T) {
	raw := `{
		"2024-05-01": {
			"date": "2024-05-01",
			"summary": "# Today",
			"news": [
				{"title": "a", "link": "https://e.com/a", "published": "2024-05-01T08:30:00.123456"},
				{"title": "a dup", "link": "https://e.com/a#x", "published": "2024-05-01"},
				{"title": "b", "link": "https://e.com/b", "published": "not a date", "summary": "s", "insights": "i"}
			],
			"collected_at": "2024-05-01T09:00:00.000001"
		},
		"latest": {"date": "whatever", "news": []},
		"2024-04-31": {"news": []}
	}`

	var a NewsArchive
	require.NoError(t, json.Unmarshal([]byte(raw), &a))

	require.Len(t, a, 1)
	d := a["2024-05-01"]
	require.Len(t, d.News, 2)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 30, 0, 123456000, time.UTC), d.News[0].Published)
	assert.True(t, d.News[1].Published.IsZero())
	assert.Equal(t, "i", d.News[1].Insight)
	assert.True(t, d.News[1].Enriched())
	assert.Equal(t, 2024, d.CollectedAt.Year())
}

func TestNewsArchive_DatesAndPrune(t *testing.T) {
	a := NewsArchive{
		"2024-05-01": {Date: "2024-05-01"},
		"2024-05-03": {Date: "2024-05-03"},
		"2024-04-01": {Date: "2024-04-01"},
	}
	assert.Equal(t, []string{"2024-05-03", "2024-05-01", "2024-04-01"}, a.Dates())

	assert.Equal(t, 1, a.Prune("2024-05-01"))
	assert.Equal(t, []string{"2024-05-03", "2024-05-01"}, a.Dates())
}

func TestVisitorStats_DecodeDefaults(t *testing.T) {
	var s VisitorStats
	require.NoError(t, json.Unmarshal([]byte(`{"daily_visitors": {"2024-05-01": 3}, "total_visitors": 99, "last_updated": ""}`), &s))

	assert.NotNil(t, s.Sessions)
	assert.True(t, s.LastUpdated.IsZero())

	s.DailyVisitors["2024-05-02"] = 4
	s.Recount()
	assert.Equal(t, 7, s.TotalVisitors)
}

func TestFeedSource_EnabledDefault(t *testing.T) {
	var r FeedRegistry
	require.NoError(t, json.Unmarshal([]byte(`{"feeds": [
		{"name": "a", "url": "https://a.example/rss"},
		{"name": "b", "url": "https://b.example/rss", "enabled": false}
	]}`), &r))

	require.Len(t, r.Feeds, 2)
	assert.True(t, r.Feeds[0].Enabled)
	assert.False(t, r.Feeds[1].Enabled)
	assert.Equal(t, 1, r.Find("b"))
	assert.Equal(t, -1, r.Find("c"))
	assert.Len(t, r.Enabled(), 1)
}

func TestRunReport_Finish(t *testing.T) {
	now := time.Now()

	r := &RunReport{Chunks: []ChunkReport{{Outcome: ChunkOK}}}
	r.Finish(StateDone, nil, now)
	assert.Equal(t, RunSucceeded, r.Status)

	r = &RunReport{Chunks: []ChunkReport{{Outcome: ChunkOK}, {Outcome: ChunkDegraded}}}
	r.Finish(StateDone, nil, now)
	assert.Equal(t, RunDegraded, r.Status)

	r = &RunReport{Feeds: map[string]FeedStatus{"x": {Error: "boom"}}}
	r.Finish(StateDone, nil, now)
	assert.Equal(t, RunDegraded, r.Status)

	r = &RunReport{}
	r.Finish(StateFailed, assert.AnError, now)
	assert.Equal(t, RunFailed, r.Status)
	assert.Equal(t, assert.AnError.Error(), r.Error)
}
