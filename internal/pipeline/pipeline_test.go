package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/ai"
	"github.com/thinkscotty/newsroom/internal/collector"
	"github.com/thinkscotty/newsroom/internal/dedup"
	"github.com/thinkscotty/newsroom/internal/docstore"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
	"github.com/thinkscotty/newsroom/internal/summarizer"
)

var testNow = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

const testDate = "2024-05-02"

type fakeCollector struct {
	items   []models.NewsItem
	results map[string]collector.FeedResult
}

func (f *fakeCollector) Collect(ctx context.Context, sources []models.FeedSource, window time.Duration) ([]models.NewsItem, map[string]collector.FeedResult) {
	results := f.results
	if results == nil {
		results = map[string]collector.FeedResult{"tech": {Items: len(f.items)}}
	}
	return f.items, results
}

// fakeModel answers chunk prompts with one analysis per listed title.
// Briefing calls numbered failBriefingFrom and later fail when it is set.
type fakeModel struct {
	calls            atomic.Int32
	briefings        atomic.Int32
	failOn           string
	failBriefingFrom int32
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) Chat(ctx context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	m.calls.Add(1)
	prompt := req.Messages[0].Content
	if strings.Contains(prompt, "briefing") {
		n := m.briefings.Add(1)
		if m.failBriefingFrom > 0 && n >= m.failBriefingFrom {
			return nil, ai.ErrUnavailable
		}
		return &ai.ChatResponse{Content: "# Briefing"}, nil
	}
	if m.failOn != "" && strings.Contains(prompt, "Title: "+m.failOn+"\n") {
		return nil, ai.ErrUnavailable
	}
	var out []ai.ItemAnalysis
	for _, line := range strings.Split(prompt, "\n") {
		if title, ok := strings.CutPrefix(line, "Title: "); ok {
			out = append(out, ai.ItemAnalysis{Index: len(out) + 1, Summary: "sum " + title, Insight: "ins"})
		}
	}
	b, _ := json.Marshal(out)
	return &ai.ChatResponse{Content: string(b)}, nil
}

func items(titles ...string) []models.NewsItem {
	out := make([]models.NewsItem, len(titles))
	for i, t := range titles {
		out[i] = models.NewsItem{
			Title:     t,
			Link:      "https://news.example.com/" + t,
			Published: testNow.Add(-time.Hour),
			Source:    "tech",
		}
	}
	return out
}

func fastPolicy(n int) retry.Policy {
	return retry.Policy{MaxAttempts: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func newPipeline(store docstore.Store, c Collector, model ai.Provider, retention int) *Pipeline {
	sum := summarizer.New(model, summarizer.Options{
		ChunkSize:   3,
		MaxRetries:  1,
		CallTimeout: time.Second,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	})
	return New(store, c, dedup.New(0), sum, Options{
		RetentionDays: retention,
		Publish:       fastPolicy(5),
		Now:           func() time.Time { return testNow },
	})
}

func readArchive(t *testing.T, store docstore.Store) models.NewsArchive {
	t.Helper()
	a, err := docstore.Get(context.Background(), store, models.ArchiveDocument, newArchive)
	require.NoError(t, err)
	return a
}

func TestRunIngestion_PublishesDigest(t *testing.T) {
	store := docstore.NewMemoryStore()
	p := newPipeline(store, &fakeCollector{items: items("a", "b", "c")}, &fakeModel{}, 0)

	report, err := p.RunIngestion(context.Background(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, testDate, report.Date)
	assert.Equal(t, models.StateDone, report.State)
	assert.Equal(t, models.RunSucceeded, report.Status)
	assert.Equal(t, 3, report.ItemsCollected)
	assert.Equal(t, 3, report.ItemsNovel)
	assert.Equal(t, 3, report.ItemsPublished)
	assert.NotEmpty(t, report.RunID)

	d := readArchive(t, store)[testDate]
	require.Len(t, d.News, 3)
	assert.Equal(t, "sum a", d.News[0].Summary)
	assert.Equal(t, "# Briefing", d.Summary)
	assert.Equal(t, testNow, d.CollectedAt)
}

func TestRunIngestion_Idempotent(t *testing.T) {
	store := docstore.NewMemoryStore()
	model := &fakeModel{}
	c := &fakeCollector{items: items("a", "b")}
	p := newPipeline(store, c, model, 0)

	_, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)
	writes, calls := store.Writes(), model.calls.Load()
	before := readArchive(t, store)

	// Same feed content with tracking noise on the links.
	c.items = items("a", "b")
	for i := range c.items {
		c.items[i].Link += "?utm_source=rss"
	}
	report, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, report.Status)
	assert.Equal(t, 0, report.ItemsNovel)
	assert.Equal(t, writes, store.Writes())
	assert.Equal(t, calls, model.calls.Load())
	assert.Equal(t, before, readArchive(t, store))
}

func TestRunIngestion_AppendsToExistingDay(t *testing.T) {
	store := docstore.NewMemoryStore()
	c := &fakeCollector{items: items("a", "b")}
	p := newPipeline(store, c, &fakeModel{}, 0)

	_, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)

	c.items = items("b", "c")
	report, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsNovel)

	d := readArchive(t, store)[testDate]
	require.Len(t, d.News, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{d.News[0].Title, d.News[1].Title, d.News[2].Title})
}

func TestRunIngestion_DegradedChunk(t *testing.T) {
	store := docstore.NewMemoryStore()
	p := newPipeline(store, &fakeCollector{items: items("i1", "i2", "i3", "i4", "i5", "i6")}, &fakeModel{failOn: "i4"}, 0)

	report, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunDegraded, report.Status)
	require.Len(t, report.Chunks, 2)
	assert.Equal(t, models.ChunkOK, report.Chunks[0].Outcome)
	assert.Equal(t, models.ChunkDegraded, report.Chunks[1].Outcome)
	assert.Equal(t, 6, report.ItemsPublished)

	d := readArchive(t, store)[testDate]
	require.Len(t, d.News, 6)
	for i, it := range d.News {
		assert.Equal(t, i < 3, it.Enriched(), it.Title)
	}
}

func TestRunIngestion_FeedErrorDegradesRun(t *testing.T) {
	store := docstore.NewMemoryStore()
	c := &fakeCollector{
		items: items("a"),
		results: map[string]collector.FeedResult{
			"tech": {Items: 1},
			"down": {Err: errors.New("feed returned status 503")},
		},
	}
	report, err := newPipeline(store, c, &fakeModel{}, 0).RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunDegraded, report.Status)
	assert.Equal(t, "feed returned status 503", report.Feeds["down"].Error)
	assert.Equal(t, 1, report.ItemsPublished)
}

// rivalStore publishes another writer's item right before the first archive write.
type rivalStore struct {
	*docstore.MemoryStore
	once sync.Once
}

func (r *rivalStore) Write(ctx context.Context, key string, data []byte, expected string) (string, error) {
	r.once.Do(func() {
		_, _, err := docstore.Update(ctx, r.MemoryStore, key, newArchive, func(a *models.NewsArchive) error {
			d := (*a)[testDate]
			d.Date = testDate
			d.Merge(items("rival"))
			(*a)[testDate] = d
			return nil
		}, fastPolicy(1))
		if err != nil {
			panic(err)
		}
	})
	return r.MemoryStore.Write(ctx, key, data, expected)
}

func TestRunIngestion_ConcurrentPublisherNotLost(t *testing.T) {
	store := &rivalStore{MemoryStore: docstore.NewMemoryStore()}
	p := newPipeline(store, &fakeCollector{items: items("a", "b")}, &fakeModel{}, 0)

	report, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, report.Status)
	assert.Equal(t, 1, report.ConflictRetries)

	d := readArchive(t, store.MemoryStore)[testDate]
	titles := make([]string, len(d.News))
	for i, it := range d.News {
		titles[i] = it.Title
	}
	assert.Equal(t, []string{"rival", "a", "b"}, titles)
}

func TestRunIngestion_NarrativeRefreshedAfterConflict(t *testing.T) {
	store := &rivalStore{MemoryStore: docstore.NewMemoryStore()}
	model := &fakeModel{}
	p := newPipeline(store, &fakeCollector{items: items("a", "b")}, model, 0)

	report, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, report.Status)
	assert.False(t, report.NarrativeDegraded)
	assert.Equal(t, 2, report.ItemsPublished)
	assert.EqualValues(t, 2, model.briefings.Load())

	d := readArchive(t, store.MemoryStore)[testDate]
	assert.Len(t, d.News, 3)
	assert.Equal(t, "# Briefing", d.Summary)
}

func TestRunIngestion_NarrativeFallbackCoversRivalItems(t *testing.T) {
	store := &rivalStore{MemoryStore: docstore.NewMemoryStore()}
	model := &fakeModel{failBriefingFrom: 2}
	p := newPipeline(store, &fakeCollector{items: items("a", "b")}, model, 0)

	report, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ConflictRetries)
	assert.True(t, report.NarrativeDegraded)
	assert.Equal(t, models.RunDegraded, report.Status)

	d := readArchive(t, store.MemoryStore)[testDate]
	assert.Contains(t, d.Summary, "3 news items were collected on "+testDate)
	for _, title := range []string{"rival", "a", "b"} {
		assert.Contains(t, d.Summary, "- "+title+"\n")
	}
}

// lostAckStore applies the first archive write but reports it as a conflict,
// as when a response is lost and the resent request meets the new version.
type lostAckStore struct {
	*docstore.MemoryStore
	once sync.Once
}

func (l *lostAckStore) Write(ctx context.Context, key string, data []byte, expected string) (string, error) {
	var lost bool
	l.once.Do(func() { lost = true })
	version, err := l.MemoryStore.Write(ctx, key, data, expected)
	if lost && err == nil {
		return "", &docstore.ConflictError{Key: key, Expected: expected, Actual: version}
	}
	return version, err
}

func TestRunIngestion_CountsWriteThatLandedDuringConflict(t *testing.T) {
	store := &lostAckStore{MemoryStore: docstore.NewMemoryStore()}
	p := newPipeline(store, &fakeCollector{items: items("a", "b")}, &fakeModel{}, 0)

	report, err := p.RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, report.Status)
	assert.Equal(t, 1, report.ConflictRetries)
	assert.Equal(t, 2, report.ItemsPublished)
	assert.False(t, report.NarrativeDegraded)
	assert.Len(t, readArchive(t, store.MemoryStore)[testDate].News, 2)
}

func TestRunIngestion_TwoProcessesSameDay(t *testing.T) {
	store := docstore.NewMemoryStore()
	p1 := newPipeline(store, &fakeCollector{items: items("a", "b", "c")}, &fakeModel{}, 0)
	p2 := newPipeline(store, &fakeCollector{items: items("c", "d", "e")}, &fakeModel{}, 0)
	p1.opts.Publish = fastPolicy(50)
	p2.opts.Publish = fastPolicy(50)

	var wg sync.WaitGroup
	reports := make([]*models.RunReport, 2)
	for i, p := range []*Pipeline{p1, p2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := p.RunIngestion(context.Background(), testDate, nil)
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	for _, r := range reports {
		require.NotNil(t, r)
		assert.NotEqual(t, models.RunFailed, r.Status)
	}
	d := readArchive(t, store)[testDate]
	keys := dedup.KeySet(d.News)
	assert.Len(t, d.News, 5)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		assert.Contains(t, keys, "https://news.example.com/"+title)
	}
}

type conflictingStore struct {
	*docstore.MemoryStore
}

func (c *conflictingStore) Write(ctx context.Context, key string, data []byte, expected string) (string, error) {
	return "", &docstore.ConflictError{Key: key, Expected: expected, Actual: "elsewhere"}
}

func TestRunIngestion_PersistFailure(t *testing.T) {
	store := &conflictingStore{MemoryStore: docstore.NewMemoryStore()}
	report, err := newPipeline(store, &fakeCollector{items: items("a")}, &fakeModel{}, 0).RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunFailed, report.Status)
	assert.Equal(t, models.StateFailed, report.State)
	assert.Contains(t, report.Error, "persist failed")
	assert.Equal(t, 5, report.ConflictRetries)
	assert.Zero(t, report.ItemsPublished)
}

func TestRunIngestion_RetentionPrunesOldDays(t *testing.T) {
	store := docstore.NewMemoryStore()
	old := models.NewsArchive{
		"2024-03-01": {Date: "2024-03-01", News: items("ancient")},
		"2024-04-20": {Date: "2024-04-20", News: items("recent")},
	}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	_, err = store.CreateIfMissing(context.Background(), models.ArchiveDocument, data)
	require.NoError(t, err)

	_, err = newPipeline(store, &fakeCollector{items: items("a")}, &fakeModel{}, 30).RunIngestion(context.Background(), testDate, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{testDate, "2024-04-20"}, readArchive(t, store).Dates())
}

func TestRunIngestion_RejectsConcurrentRunForDate(t *testing.T) {
	p := newPipeline(docstore.NewMemoryStore(), &fakeCollector{}, &fakeModel{}, 0)

	mu, ok := p.lockDate(testDate)
	require.True(t, ok)
	_, err := p.RunIngestion(context.Background(), testDate, nil)
	assert.ErrorIs(t, err, ErrRunInProgress)
	mu.Unlock()

	_, err = p.RunIngestion(context.Background(), "2024-13-40", nil)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestRunIngestion_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := docstore.NewMemoryStore()
	report, err := newPipeline(store, &fakeCollector{items: items("a")}, &fakeModel{}, 0).RunIngestion(ctx, testDate, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunFailed, report.Status)
	assert.Contains(t, report.Error, context.Canceled.Error())
	assert.Zero(t, store.Writes())
}

func TestGetDigestAndListDates(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewCached(docstore.NewMemoryStore(), 8, time.Minute)
	p := newPipeline(store, &fakeCollector{items: items("a")}, &fakeModel{}, 0)

	dates, err := p.ListDates(ctx)
	require.NoError(t, err)
	assert.Empty(t, dates)

	_, err = p.RunIngestion(ctx, testDate, nil)
	require.NoError(t, err)

	dates, err = p.ListDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testDate}, dates)

	d, ok, err := p.GetDigest(ctx, testDate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, d.News, 1)

	_, ok, err = p.GetDigest(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.False(t, ok)
}
