package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/thinkscotty/newsroom/internal/retry"
)

// ValidationResult describes whether a URL can be registered as a feed.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Title     string `json:"title,omitempty"`
	ItemCount int    `json:"item_count"`
	FeedURL   string `json:"feed_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ValidateURL checks that rawURL is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// Validate fetches rawURL once and reports whether it parses as a feed. If it
// is an HTML page instead, the page's alternate feed link is followed.
func (c *Collector) Validate(ctx context.Context, rawURL string) ValidationResult {
	if err := ValidateURL(rawURL); err != nil {
		return ValidationResult{Error: err.Error()}
	}

	policy := c.opts.Retry
	policy.MaxAttempts = 1

	try := func(feedURL string) (ValidationResult, error) {
		var res ValidationResult
		_, err := retry.Do(ctx, policy, func(ctx context.Context) error {
			feed, err := c.fetch(ctx, feedURL)
			if err != nil {
				return err
			}
			res = ValidationResult{Valid: true, Title: cleanText(feed.Title), ItemCount: len(feed.Items), FeedURL: feedURL}
			return nil
		})
		return res, err
	}

	res, err := try(rawURL)
	if err == nil {
		return res
	}
	if !errors.Is(err, ErrMalformedFeed) {
		return ValidationResult{Error: err.Error()}
	}

	discovered := DiscoverFeed(ctx, rawURL, c.opts.UserAgent)
	if discovered == "" {
		return ValidationResult{Error: "not a feed and no feed link found on the page"}
	}
	res, err = try(discovered)
	if err != nil {
		return ValidationResult{FeedURL: discovered, Error: err.Error()}
	}
	return res
}

// DiscoverFeed looks for an RSS/Atom <link rel="alternate"> on a single page.
// Returns the feed URL if found, or empty string if none discovered.
func DiscoverFeed(ctx context.Context, pageURL, userAgent string) string {
	if ctx.Err() != nil {
		return ""
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(10 * time.Second)

	var feedURL string
	var mu sync.Mutex

	c.OnHTML(`link[rel="alternate"]`, func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		if feedURL != "" {
			return
		}
		typ := strings.ToLower(e.Attr("type"))
		if typ == "application/rss+xml" || typ == "application/atom+xml" || typ == "application/feed+json" {
			if href := e.Attr("href"); href != "" {
				feedURL = e.Request.AbsoluteURL(href)
			}
		}
	})

	c.Visit(pageURL)
	c.Wait()

	return feedURL
}
