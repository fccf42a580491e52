package models

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Layouts accepted for timestamps written by older versions of the documents.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	DateLayout,
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp parses s with any of the accepted layouts. Timestamps without a
// zone are taken as UTC. An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (n *NewsItem) UnmarshalJSON(data []byte) error {
	type alias NewsItem
	aux := struct {
		*alias
		Published string `json:"published"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTimestamp(aux.Published)
	if err != nil {
		slog.Warn("Ignoring unparseable published time", "link", n.Link, "value", aux.Published)
	}
	n.Published = t
	return nil
}

func (d *DailyDigest) UnmarshalJSON(data []byte) error {
	type alias DailyDigest
	aux := struct {
		*alias
		CollectedAt string `json:"collected_at"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTimestamp(aux.CollectedAt)
	if err != nil {
		slog.Warn("Ignoring unparseable collected_at", "date", d.Date, "value", aux.CollectedAt)
	}
	d.CollectedAt = t
	return nil
}

// UnmarshalJSON drops entries whose key is not a date and collapses duplicate
// items inside a digest, keeping the first occurrence.
func (a *NewsArchive) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(NewsArchive, len(raw))
	for key, msg := range raw {
		if !ValidDate(key) {
			slog.Warn("Dropping archive entry with malformed date", "key", key)
			continue
		}
		var d DailyDigest
		if err := json.Unmarshal(msg, &d); err != nil {
			slog.Warn("Dropping undecodable archive entry", "date", key, "error", err)
			continue
		}
		d.Date = key
		items := d.News
		d.News = nil
		d.Merge(items)
		if d.News == nil {
			d.News = []NewsItem{}
		}
		out[key] = d
	}
	*a = out
	return nil
}

func (s *VisitorStats) UnmarshalJSON(data []byte) error {
	type alias VisitorStats
	aux := struct {
		*alias
		LastUpdated string `json:"last_updated"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTimestamp(aux.LastUpdated)
	if err != nil {
		slog.Warn("Ignoring unparseable last_updated", "value", aux.LastUpdated)
	}
	s.LastUpdated = t
	if s.DailyVisitors == nil {
		s.DailyVisitors = make(map[string]int)
	}
	if s.Sessions == nil {
		s.Sessions = make(map[string][]string)
	}
	return nil
}

// UnmarshalJSON treats a missing enabled flag as enabled.
func (f *FeedSource) UnmarshalJSON(data []byte) error {
	type alias FeedSource
	aux := struct {
		*alias
		Enabled *bool `json:"enabled"`
	}{alias: (*alias)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.Enabled = aux.Enabled == nil || *aux.Enabled
	return nil
}
