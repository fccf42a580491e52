// Package feeds manages the feed registry stored in feeds.json.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thinkscotty/newsroom/internal/collector"
	"github.com/thinkscotty/newsroom/internal/docstore"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
)

var (
	ErrInvalidFeed  = errors.New("invalid feed")
	ErrFeedNotFound = errors.New("feed not found")
)

// DefaultFeeds is the list a new registry starts with.
var DefaultFeeds = []models.FeedSource{
	{Name: "GeekNews", URL: "https://feeds.feedburner.com/geeknews", Enabled: true},
	{Name: "Naver IT News", URL: "https://news.naver.com/main/rss/section.naver?sid=105", Enabled: true},
	{Name: "TechCrunch Korea", URL: "https://kr.techcrunch.com/feed/", Enabled: true},
}

// Validator checks that a URL serves a parseable feed.
type Validator interface {
	Validate(ctx context.Context, rawURL string) collector.ValidationResult
}

// Options configures a Registry. Zero values take the defaults.
type Options struct {
	Key       string
	Defaults  []models.FeedSource
	Validator Validator // nil skips the live check on Upsert
	Policy    retry.Policy
}

type Registry struct {
	store docstore.Store
	opts  Options
}

func New(store docstore.Store, opts Options) *Registry {
	if opts.Key == "" {
		opts.Key = models.FeedsDocument
	}
	if opts.Defaults == nil {
		opts.Defaults = DefaultFeeds
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = docstore.DefaultConflictPolicy()
	}
	return &Registry{store: store, opts: opts}
}

func newRegistry() models.FeedRegistry { return models.FeedRegistry{Feeds: []models.FeedSource{}} }

// EnsureDefaults writes the default list if feeds.json does not exist yet.
// An existing registry is left alone.
func (r *Registry) EnsureDefaults(ctx context.Context) error {
	data, err := json.MarshalIndent(models.FeedRegistry{Feeds: r.opts.Defaults}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode default feeds: %w", err)
	}
	ctx = docstore.WithCommitMessage(ctx, "initialize feed list")
	if _, err := r.store.CreateIfMissing(ctx, r.opts.Key, data); err != nil {
		return fmt.Errorf("ensure default feeds: %w", err)
	}
	return nil
}

// List returns every registered feed.
func (r *Registry) List(ctx context.Context) ([]models.FeedSource, error) {
	reg, err := docstore.Get(ctx, r.store, r.opts.Key, newRegistry)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return reg.Feeds, nil
}

// Enabled returns the feeds the collector should fetch.
func (r *Registry) Enabled(ctx context.Context) ([]models.FeedSource, error) {
	reg, err := docstore.Get(ctx, r.store, r.opts.Key, newRegistry)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return reg.Enabled(), nil
}

// Validate checks the shape of f without touching the network.
func Validate(f models.FeedSource) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFeed)
	}
	if err := collector.ValidateURL(f.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	return nil
}

// Upsert adds f or replaces the feed with the same name. When a Validator is
// configured the URL must serve a feed; a feed link discovered on an HTML
// page replaces the submitted URL.
func (r *Registry) Upsert(ctx context.Context, f models.FeedSource) (models.FeedSource, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.URL = strings.TrimSpace(f.URL)
	if err := Validate(f); err != nil {
		return models.FeedSource{}, err
	}

	if r.opts.Validator != nil {
		res := r.opts.Validator.Validate(ctx, f.URL)
		if !res.Valid {
			return models.FeedSource{}, fmt.Errorf("%w: %s", ErrInvalidFeed, res.Error)
		}
		if res.FeedURL != "" && res.FeedURL != f.URL {
			slog.Info("Using discovered feed URL", "feed", f.Name, "page", f.URL, "feed_url", res.FeedURL)
			f.URL = res.FeedURL
		}
	}

	ctx = docstore.WithCommitMessage(ctx, "save feed "+f.Name)
	_, _, err := docstore.Update(ctx, r.store, r.opts.Key, newRegistry, func(reg *models.FeedRegistry) error {
		if i := reg.Find(f.Name); i >= 0 {
			if reg.Feeds[i] == f {
				return docstore.ErrNoChange
			}
			reg.Feeds[i] = f
			return nil
		}
		reg.Feeds = append(reg.Feeds, f)
		return nil
	}, r.opts.Policy)
	if err != nil {
		return models.FeedSource{}, fmt.Errorf("save feed: %w", err)
	}
	return f, nil
}

// Remove deletes the feed named name.
func (r *Registry) Remove(ctx context.Context, name string) error {
	ctx = docstore.WithCommitMessage(ctx, "remove feed "+name)
	_, _, err := docstore.Update(ctx, r.store, r.opts.Key, newRegistry, func(reg *models.FeedRegistry) error {
		i := reg.Find(name)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrFeedNotFound, name)
		}
		reg.Feeds = append(reg.Feeds[:i], reg.Feeds[i+1:]...)
		return nil
	}, r.opts.Policy)
	if err != nil {
		return fmt.Errorf("remove feed: %w", err)
	}
	return nil
}
