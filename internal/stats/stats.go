// Package stats keeps the visitor counters in stats.json.
package stats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thinkscotty/newsroom/internal/docstore"
	"github.com/thinkscotty/newsroom/internal/metrics"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
)

// ErrEmptySession is returned for a blank session key.
var ErrEmptySession = errors.New("empty session key")

// Options configures an Aggregator. Zero values take the defaults.
type Options struct {
	Key              string
	SessionRetention int // days of session digests kept in the document
	SeenCacheSize    int
	Policy           retry.Policy
	Location         *time.Location
	Now              func() time.Time
}

type Aggregator struct {
	store docstore.Store
	opts  Options
	seen  *lru.Cache[string, struct{}] // date|digest pairs already counted by this process
}

func New(store docstore.Store, opts Options) *Aggregator {
	if opts.Key == "" {
		opts.Key = models.StatsDocument
	}
	if opts.SessionRetention <= 0 {
		opts.SessionRetention = 2
	}
	if opts.SeenCacheSize <= 0 {
		opts.SeenCacheSize = 10000
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = docstore.DefaultConflictPolicy()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	seen, _ := lru.New[string, struct{}](opts.SeenCacheSize)
	return &Aggregator{store: store, opts: opts, seen: seen}
}

// Today returns the current date key in the aggregator's time zone.
func (a *Aggregator) Today() string {
	return models.DateOf(a.opts.Now(), a.opts.Location)
}

// sessionDigest shortens a session key; raw keys never reach the store.
func sessionDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// RecordVisit counts sessionKey once for date. It reports whether this call
// incremented the counter.
func (a *Aggregator) RecordVisit(ctx context.Context, date, sessionKey string) (bool, error) {
	if sessionKey == "" {
		return false, ErrEmptySession
	}
	if !models.ValidDate(date) {
		return false, fmt.Errorf("invalid date %q", date)
	}
	digest := sessionDigest(sessionKey)
	seenKey := date + "|" + digest
	if a.seen.Contains(seenKey) {
		metrics.RecordVisit(false)
		return false, nil
	}

	now := a.opts.Now()
	cutoff := models.DateOf(now.AddDate(0, 0, -a.opts.SessionRetention), a.opts.Location)

	var counted bool
	_, st, err := docstore.Update(ctx, a.store, a.opts.Key, models.NewVisitorStats, func(s *models.VisitorStats) error {
		counted = false
		if s.DailyVisitors == nil {
			s.DailyVisitors = make(map[string]int)
		}
		if s.Sessions == nil {
			s.Sessions = make(map[string][]string)
		}
		if slices.Contains(s.Sessions[date], digest) {
			return docstore.ErrNoChange
		}
		s.Sessions[date] = append(s.Sessions[date], digest)
		s.DailyVisitors[date]++
		for d := range s.Sessions {
			if d < cutoff && d != date {
				delete(s.Sessions, d)
			}
		}
		s.Recount()
		s.LastUpdated = now.UTC()
		counted = true
		return nil
	}, a.opts.Policy)
	metrics.RecordConflicts(a.opts.Key, st.Conflicts)
	if err != nil {
		return false, fmt.Errorf("record visit: %w", err)
	}

	a.seen.Add(seenKey, struct{}{})
	metrics.RecordVisit(counted)
	return counted, nil
}

// Get returns the current counters.
func (a *Aggregator) Get(ctx context.Context) (models.VisitorStats, error) {
	s, err := docstore.Get(ctx, a.store, a.opts.Key, models.NewVisitorStats)
	if err != nil {
		return models.VisitorStats{}, err
	}
	s.Recount()
	return s, nil
}
