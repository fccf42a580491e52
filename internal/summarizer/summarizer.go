// Package summarizer enriches news items with AI summaries in fixed-size
// chunks and writes the day's narrative.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thinkscotty/newsroom/internal/ai"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
)

// ErrMalformedResponse means the model answered with something unusable.
var ErrMalformedResponse = errors.New("malformed model response")

const (
	defaultChunkSize = 15
	maxChunkSize     = 50
	fallbackTitles   = 10
)

// Options configures a Summarizer. Zero values take the defaults.
type Options struct {
	ChunkSize      int
	CallTimeout    time.Duration
	MaxRetries     int
	Concurrency    int
	NarrativeItems int
	Language       string
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

func (o *Options) setDefaults() {
	switch {
	case o.ChunkSize <= 0:
		o.ChunkSize = defaultChunkSize
	case o.ChunkSize > maxChunkSize:
		o.ChunkSize = maxChunkSize
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.NarrativeItems <= 0 {
		o.NarrativeItems = 20
	}
	if o.Language == "" {
		o.Language = "Korean"
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
}

// Result is the outcome of one Summarize call.
type Result struct {
	Items             []models.NewsItem
	Narrative         string
	NarrativeDegraded bool
	Chunks            []models.ChunkReport
}

type Summarizer struct {
	provider ai.Provider
	opts     Options
}

func New(provider ai.Provider, opts Options) *Summarizer {
	opts.setDefaults()
	return &Summarizer{provider: provider, opts: opts}
}

func (s *Summarizer) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    s.opts.MaxRetries + 1,
		BaseDelay:      s.opts.BaseDelay,
		MaxDelay:       s.opts.MaxDelay,
		Multiplier:     2,
		Jitter:         0.2,
		AttemptTimeout: s.opts.CallTimeout,
	}
}

// Summarize enriches items chunk by chunk and writes a narrative covering
// existing followed by items. Items come back in input order; a chunk that
// cannot be summarized is returned unenriched.
func (s *Summarizer) Summarize(ctx context.Context, date string, items, existing []models.NewsItem) Result {
	chunks := partition(items, s.opts.ChunkSize)
	enriched := make([][]models.NewsItem, len(chunks))
	reports := make([]models.ChunkReport, len(chunks))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			enriched[i], reports[i] = s.summarizeChunk(ctx, i, chunk)
			return nil
		})
	}
	g.Wait()

	res := Result{Chunks: reports, Items: make([]models.NewsItem, 0, len(items))}
	for _, c := range enriched {
		res.Items = append(res.Items, c...)
	}

	day := make([]models.NewsItem, 0, len(existing)+len(res.Items))
	day = append(day, existing...)
	day = append(day, res.Items...)

	if ctx.Err() != nil {
		res.Narrative, res.NarrativeDegraded = FallbackNarrative(date, day), true
		return res
	}
	narrative, err := s.Narrate(ctx, date, day)
	if err != nil {
		slog.Warn("Narrative generation failed, using title list", "date", date, "error", err)
		res.Narrative, res.NarrativeDegraded = FallbackNarrative(date, day), true
		return res
	}
	res.Narrative = narrative
	return res
}

func (s *Summarizer) summarizeChunk(ctx context.Context, index int, chunk []models.NewsItem) ([]models.NewsItem, models.ChunkReport) {
	out := make([]models.NewsItem, len(chunk))
	copy(out, chunk)
	report := models.ChunkReport{Index: index, Size: len(chunk)}

	var analyses []ai.ItemAnalysis
	attempts, err := retry.DoWhen(ctx, s.policy(), ai.Retryable, func(ctx context.Context) error {
		resp, err := s.provider.Chat(ctx, ai.ChatRequest{
			Messages:    []ai.Message{{Role: "user", Content: ai.BuildChunkPrompt(chunk, s.opts.Language)}},
			Temperature: 0.7,
			MaxTokens:   400 * len(chunk),
			JSONMode:    true,
		})
		if err != nil {
			return err
		}
		analyses, err = parseAnalyses(resp.Content, len(chunk))
		return err
	})
	report.Attempts = attempts

	if err != nil {
		report.Error = err.Error()
		if ctx.Err() != nil {
			report.Outcome = models.ChunkCancelled
		} else {
			report.Outcome = models.ChunkDegraded
			slog.Warn("Chunk summarization failed, keeping items unenriched", "chunk", index, "items", len(chunk), "attempts", attempts, "error", err)
		}
		return out, report
	}

	for _, a := range analyses {
		summary := strings.TrimSpace(a.Summary)
		if summary == "" {
			continue
		}
		out[a.Index-1].Summary = summary
		out[a.Index-1].Insight = strings.TrimSpace(a.Insight)
	}
	report.Outcome = models.ChunkOK
	return out, report
}

// parseAnalyses decodes a chunk response. Every index must refer to an item
// of the chunk.
func parseAnalyses(content string, n int) ([]ai.ItemAnalysis, error) {
	raw := ai.ExtractJSON(content)

	var analyses []ai.ItemAnalysis
	if err := json.Unmarshal([]byte(raw), &analyses); err != nil {
		var wrapped struct {
			Items []ai.ItemAnalysis `json:"items"`
		}
		if err2 := json.Unmarshal([]byte(raw), &wrapped); err2 != nil || wrapped.Items == nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		analyses = wrapped.Items
	}
	if len(analyses) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrMalformedResponse)
	}
	for _, a := range analyses {
		if a.Index < 1 || a.Index > n {
			return nil, fmt.Errorf("%w: index %d out of range 1..%d", ErrMalformedResponse, a.Index, n)
		}
	}
	return analyses, nil
}

// Narrate asks the model for a briefing over day, capped at the first
// NarrativeItems items.
func (s *Summarizer) Narrate(ctx context.Context, date string, day []models.NewsItem) (string, error) {
	if len(day) > s.opts.NarrativeItems {
		day = day[:s.opts.NarrativeItems]
	}
	prompt := ai.BuildNarrativePrompt(date, day, s.opts.Language)

	var text string
	_, err := retry.DoWhen(ctx, s.policy(), ai.Retryable, func(ctx context.Context) error {
		resp, err := s.provider.Chat(ctx, ai.ChatRequest{
			Messages:    []ai.Message{{Role: "user", Content: prompt}},
			Temperature: 0.8,
			MaxTokens:   1500,
		})
		if err != nil {
			return err
		}
		text = strings.TrimSpace(resp.Content)
		if text == "" {
			return fmt.Errorf("%w: empty narrative", ErrMalformedResponse)
		}
		return nil
	})
	return text, err
}

// FallbackNarrative is the markdown used when the model cannot write one: a
// heading, the item count and the first titles.
func FallbackNarrative(date string, day []models.NewsItem) string {
	var sb strings.Builder
	sb.WriteString("# Daily IT News Briefing\n\n")
	if len(day) == 0 {
		fmt.Fprintf(&sb, "No news was collected on %s.\n", date)
		return sb.String()
	}
	fmt.Fprintf(&sb, "%d news items were collected on %s.\n\n## Top stories\n", len(day), date)
	for i, it := range day {
		if i == fallbackTitles {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", it.Title)
	}
	return sb.String()
}

func partition(items []models.NewsItem, size int) [][]models.NewsItem {
	var chunks [][]models.NewsItem
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
