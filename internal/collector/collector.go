// Package collector fetches the configured feeds and turns their recent
// entries into news items.
package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
)

var (
	// ErrMalformedFeed means the body could not be parsed as a feed. It is not retried.
	ErrMalformedFeed = errors.New("malformed feed")
	ErrNoURL         = errors.New("feed has no URL")
)

const maxFeedBytes = 10 << 20

// Options configures a Collector. Zero values take the defaults.
type Options struct {
	Concurrency    int
	RequestTimeout time.Duration
	Retry          retry.Policy
	HostInterval   time.Duration
	UserAgent      string
	MaxExcerpt     int
	Client         *http.Client
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 6
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 20 * time.Second
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 20 * time.Second, Multiplier: 2, Jitter: 0.2}
	}
	o.Retry.AttemptTimeout = o.RequestTimeout
	if o.UserAgent == "" {
		o.UserAgent = "Newsroom/1.0 (Feed Collector)"
	}
	if o.MaxExcerpt <= 0 {
		o.MaxExcerpt = 500
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// FeedResult is the outcome of collecting one source.
type FeedResult struct {
	Items    int
	Attempts int
	Err      error
}

// Collector fetches feeds concurrently on a bounded pool.
type Collector struct {
	opts    Options
	limiter *HostRateLimiter
}

func New(opts Options) *Collector {
	opts.setDefaults()
	var limiter *HostRateLimiter
	if opts.HostInterval > 0 {
		limiter = NewHostRateLimiter(opts.HostInterval)
	}
	return &Collector{opts: opts, limiter: limiter}
}

// Collect fetches every enabled source and returns the entries published within
// window of now. A failing source is reported in the result map and does not
// affect the others. Items keep feed order within a source and source order
// across sources.
func (c *Collector) Collect(ctx context.Context, sources []models.FeedSource, window time.Duration) ([]models.NewsItem, map[string]FeedResult) {
	now := c.opts.Now()
	perSource := make([][]models.NewsItem, len(sources))
	results := make(map[string]FeedResult, len(sources))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for i, src := range sources {
		if !src.Enabled {
			continue
		}
		if strings.TrimSpace(src.URL) == "" {
			mu.Lock()
			results[src.Name] = FeedResult{Err: ErrNoURL}
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			items, attempts, err := c.collectSource(ctx, src, now, window)
			perSource[i] = items

			mu.Lock()
			results[src.Name] = FeedResult{Items: len(items), Attempts: attempts, Err: err}
			mu.Unlock()

			if err != nil {
				slog.Warn("Feed collection failed", "feed", src.Name, "url", src.URL, "attempts", attempts, "error", err)
			} else {
				slog.Debug("Feed collected", "feed", src.Name, "items", len(items))
			}
			return nil
		})
	}
	g.Wait()

	var all []models.NewsItem
	for _, items := range perSource {
		all = append(all, items...)
	}
	return all, results
}

func (c *Collector) collectSource(ctx context.Context, src models.FeedSource, now time.Time, window time.Duration) ([]models.NewsItem, int, error) {
	var feed *gofeed.Feed
	attempts, err := retry.DoWhen(ctx, c.opts.Retry, retryableFetch, func(ctx context.Context) error {
		var err error
		feed, err = c.fetch(ctx, src.URL)
		return err
	})
	if err != nil {
		return nil, attempts, err
	}
	return c.recentItems(feed, src, now, window), attempts, nil
}

// fetch downloads and parses one feed.
func (c *Collector) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if c.limiter != nil {
		if err := c.limiter.WaitForHost(ctx, feedURL); err != nil {
			return nil, fmt.Errorf("rate limiting failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Wait: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", feedURL, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	return feed, nil
}

func (c *Collector) recentItems(feed *gofeed.Feed, src models.FeedSource, now time.Time, window time.Duration) []models.NewsItem {
	var items []models.NewsItem
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		ts := entryTime(it)
		if ts.IsZero() || ts.After(now) {
			continue
		}
		if window > 0 && ts.Before(now.Add(-window)) {
			continue
		}

		title := cleanText(it.Title)
		link, err := models.NormalizeLink(entryLink(it))
		if title == "" || err != nil || !strings.HasPrefix(link, "http") {
			continue
		}

		desc := it.Description
		if desc == "" {
			desc = it.Content
		}

		items = append(items, models.NewsItem{
			Title:       title,
			Link:        link,
			Published:   ts.UTC(),
			Description: Excerpt(desc, c.opts.MaxExcerpt),
			Source:      src.Name,
		})
	}
	return items
}

// entryTime is the published time, falling back to the updated time.
func entryTime(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return *it.PublishedParsed
	}
	if it.UpdatedParsed != nil {
		return *it.UpdatedParsed
	}
	return time.Time{}
}

func entryLink(it *gofeed.Item) string {
	if it.Link != "" {
		return it.Link
	}
	for _, l := range it.Links {
		if l != "" {
			return l
		}
	}
	return ""
}

// StatusError is a non-2xx answer from a feed host.
type StatusError struct {
	Code int
	Wait time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed returned status %d", e.Code)
}

func (e *StatusError) RetryAfter() time.Duration { return e.Wait }

// retryableFetch retries network failures, timeouts, 429 and 5xx.
func retryableFetch(err error) bool {
	if errors.Is(err, ErrMalformedFeed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
