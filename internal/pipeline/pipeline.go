// Package pipeline runs one ingestion for a date: collect, dedupe, summarize,
// merge and publish the day's digest through the document store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thinkscotty/newsroom/internal/collector"
	"github.com/thinkscotty/newsroom/internal/dedup"
	"github.com/thinkscotty/newsroom/internal/docstore"
	"github.com/thinkscotty/newsroom/internal/metrics"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
	"github.com/thinkscotty/newsroom/internal/summarizer"
)

var (
	ErrRunInProgress = errors.New("ingestion already running for this date")
	ErrInvalidDate   = errors.New("invalid date")
)

// Collector fetches recent items from feeds.
type Collector interface {
	Collect(ctx context.Context, sources []models.FeedSource, window time.Duration) ([]models.NewsItem, map[string]collector.FeedResult)
}

// Summarizer enriches novel items and writes the day's narrative.
type Summarizer interface {
	Summarize(ctx context.Context, date string, items, existing []models.NewsItem) summarizer.Result
	Narrate(ctx context.Context, date string, day []models.NewsItem) (string, error)
}

// Options configures a Pipeline. Zero values take the defaults.
type Options struct {
	Window        time.Duration
	RetentionDays int
	Location      *time.Location
	ArchiveKey    string
	Publish       retry.Policy
	Now           func() time.Time
}

type Pipeline struct {
	store      docstore.Store
	collector  Collector
	dedup      *dedup.Deduper
	summarizer Summarizer
	opts       Options
	locks      sync.Map // per-date locks: date -> *sync.Mutex
}

func New(store docstore.Store, c Collector, d *dedup.Deduper, s Summarizer, opts Options) *Pipeline {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ArchiveKey == "" {
		opts.ArchiveKey = models.ArchiveDocument
	}
	if opts.Publish.MaxAttempts == 0 {
		opts.Publish = docstore.DefaultConflictPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if d == nil {
		d = dedup.New(0)
	}
	return &Pipeline{store: store, collector: c, dedup: d, summarizer: s, opts: opts}
}

// Today returns the current date key in the pipeline's time zone.
func (p *Pipeline) Today() string {
	return models.DateOf(p.opts.Now(), p.opts.Location)
}

// lockDate acquires the per-date mutex without blocking.
func (p *Pipeline) lockDate(date string) (*sync.Mutex, bool) {
	val, _ := p.locks.LoadOrStore(date, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	if mu.TryLock() {
		return mu, true
	}
	return nil, false
}

func newArchive() models.NewsArchive { return models.NewsArchive{} }

// RunIngestion runs the whole pipeline for date (today when empty). The error
// is only set when the run could not start; every started run returns a
// report whose Status tells how it ended.
func (p *Pipeline) RunIngestion(ctx context.Context, date string, sources []models.FeedSource) (*models.RunReport, error) {
	if date == "" {
		date = p.Today()
	}
	if !models.ValidDate(date) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	mu, ok := p.lockDate(date)
	if !ok {
		return nil, ErrRunInProgress
	}
	defer mu.Unlock()

	report := &models.RunReport{
		RunID:     uuid.NewString(),
		Date:      date,
		State:     models.StateStart,
		Feeds:     make(map[string]models.FeedStatus),
		StartedAt: p.opts.Now(),
	}
	log := slog.With("run", report.RunID, "date", date)
	log.Info("Ingestion started", "feeds", len(sources))

	p.run(ctx, report, log, sources)

	metrics.RecordRun(report)
	log.Info("Ingestion finished",
		"status", report.Status,
		"collected", report.ItemsCollected,
		"novel", report.ItemsNovel,
		"published", report.ItemsPublished,
		"conflicts", report.ConflictRetries,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, report *models.RunReport, log *slog.Logger, sources []models.FeedSource) {
	fail := func(err error) {
		log.Error("Ingestion failed", "state", report.State, "error", err)
		report.Finish(models.StateFailed, err, p.opts.Now())
	}

	report.State = models.StateCollecting
	items, results := p.collector.Collect(ctx, sources, p.opts.Window)
	for name, r := range results {
		fs := models.FeedStatus{ItemsFetched: r.Items}
		if r.Err != nil {
			fs.Error = r.Err.Error()
		}
		report.Feeds[name] = fs
	}
	report.ItemsCollected = len(items)
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	report.State = models.StateDeduping
	archive, _, err := docstore.Load(ctx, p.store, p.opts.ArchiveKey, newArchive)
	if err != nil {
		fail(fmt.Errorf("read archive: %w", err))
		return
	}
	existing := archive[report.Date].News
	novel := p.dedup.Filter(items, existing)
	report.ItemsNovel = len(novel)
	if len(novel) == 0 {
		log.Info("No new items")
		report.Finish(models.StateDone, nil, p.opts.Now())
		return
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	report.State = models.StateSummarizing
	res := p.summarizer.Summarize(ctx, report.Date, novel, existing)
	report.Chunks = res.Chunks
	report.NarrativeDegraded = res.NarrativeDegraded
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	report.State = models.StateMerging
	collectedAt := p.opts.Now().UTC()

	report.State = models.StatePublishing
	out, err := p.publish(ctx, report, res, existing, collectedAt)
	if err != nil {
		fail(err)
		return
	}
	report.ItemsPublished = out.published
	if out.stale {
		// A concurrent publisher added items the narrative never saw.
		report.NarrativeDegraded = !p.refreshNarrative(ctx, report, log, out.day)
	}
	report.Finish(models.StateDone, nil, p.opts.Now())
}

type publishOutcome struct {
	published int
	stale     bool
	day       []models.NewsItem
}

// publish merges the enriched items into the freshest archive. The mutation
// runs again on every conflict, so items a concurrent publisher added survive.
// When the fresh digest holds items the narrative was not written over, the
// title-list fallback covering the whole day is stored instead.
func (p *Pipeline) publish(ctx context.Context, report *models.RunReport, res summarizer.Result, existing []models.NewsItem, collectedAt time.Time) (publishOutcome, error) {
	date := report.Date
	ctx = docstore.WithCommitMessage(ctx, fmt.Sprintf("publish %d news items for %s", len(res.Items), date))

	narrated := dedup.KeySet(existing)
	for k := range dedup.KeySet(res.Items) {
		narrated[k] = struct{}{}
	}

	var stale bool
	archive, stats, err := docstore.Update(ctx, p.store, p.opts.ArchiveKey, newArchive, func(a *models.NewsArchive) error {
		if *a == nil {
			*a = models.NewsArchive{}
		}
		digest := (*a)[date]
		digest.Date = date
		if digest.News == nil {
			digest.News = []models.NewsItem{}
		}
		digest.Merge(res.Items)
		stale = !coveredBy(digest.News, narrated)
		if stale {
			digest.Summary = summarizer.FallbackNarrative(date, digest.News)
		} else {
			digest.Summary = res.Narrative
		}
		digest.CollectedAt = collectedAt

		if p.opts.RetentionDays > 0 {
			cutoff := models.DateOf(p.opts.Now().AddDate(0, 0, -p.opts.RetentionDays), p.opts.Location)
			if n := a.Prune(cutoff); n > 0 {
				slog.Info("Pruned old digests", "count", n, "before", cutoff)
			}
		}
		(*a)[date] = digest
		return nil
	}, p.opts.Publish)

	report.ConflictRetries = stats.Conflicts
	metrics.RecordConflicts(p.opts.ArchiveKey, stats.Conflicts)
	if err != nil {
		return publishOutcome{}, fmt.Errorf("publish: %w", err)
	}

	// Counted against the pre-summary snapshot: a write that landed but
	// reported a conflict still published this run's items.
	day := archive[date].News
	before := dedup.KeySet(existing)
	stored := dedup.KeySet(day)
	published := 0
	for _, it := range res.Items {
		k := it.IdentityKey()
		if _, ok := before[k]; ok {
			continue
		}
		if _, ok := stored[k]; ok {
			published++
		}
	}
	return publishOutcome{published: published, stale: stale, day: day}, nil
}

// refreshNarrative rewrites the day's narrative over day and stores it if the
// digest has not changed since. It reports whether the stored narrative now
// covers the whole day.
func (p *Pipeline) refreshNarrative(ctx context.Context, report *models.RunReport, log *slog.Logger, day []models.NewsItem) bool {
	text, err := p.summarizer.Narrate(ctx, report.Date, day)
	if err != nil {
		log.Warn("Narrative refresh failed, keeping title list", "error", err)
		return false
	}

	narrated := dedup.KeySet(day)
	var stored bool
	ctx = docstore.WithCommitMessage(ctx, "refresh briefing for "+report.Date)
	_, stats, err := docstore.Update(ctx, p.store, p.opts.ArchiveKey, newArchive, func(a *models.NewsArchive) error {
		stored = false
		digest, ok := (*a)[report.Date]
		if !ok || len(digest.News) != len(narrated) || !coveredBy(digest.News, narrated) {
			return docstore.ErrNoChange
		}
		digest.Summary = text
		(*a)[report.Date] = digest
		stored = true
		return nil
	}, p.opts.Publish)
	report.ConflictRetries += stats.Conflicts
	metrics.RecordConflicts(p.opts.ArchiveKey, stats.Conflicts)
	if err != nil {
		log.Warn("Narrative refresh not stored", "error", err)
		return false
	}
	if !stored {
		log.Info("Digest changed again, narrative refresh skipped")
	}
	return stored
}

func coveredBy(items []models.NewsItem, keys map[string]struct{}) bool {
	for _, it := range items {
		if _, ok := keys[it.IdentityKey()]; !ok {
			return false
		}
	}
	return true
}

// GetDigest returns the digest stored for date.
func (p *Pipeline) GetDigest(ctx context.Context, date string) (models.DailyDigest, bool, error) {
	archive, err := docstore.Get(ctx, p.store, p.opts.ArchiveKey, newArchive)
	if err != nil {
		return models.DailyDigest{}, false, err
	}
	d, ok := archive[date]
	return d, ok, nil
}

// ListDates returns the dates that have a digest, newest first.
func (p *Pipeline) ListDates(ctx context.Context) ([]string, error) {
	archive, err := docstore.Get(ctx, p.store, p.opts.ArchiveKey, newArchive)
	if err != nil {
		return nil, err
	}
	return archive.Dates(), nil
}
