// Package track manages the user's reading progress over rescued articles:
// status updates, filtered reading lists, aggregate statistics and a CSV
// export of the whole backlog.
package track

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pocketrescue/internal/rescue"
)

// MarkRequest updates the reading state of one article. Nil pointer fields
// leave the stored value untouched.
type MarkRequest struct {
	URL     string
	Status  rescue.ReadingStatus
	Percent *int
	Rating  *int
	Notes   string
}

// Entry pairs an article with its reading progress for list views.
type Entry struct {
	Article  rescue.Article  `json:"article"`
	Progress rescue.Progress `json:"progress"`
}

// ListFilter narrows the reading list. A zero filter lists unread articles.
type ListFilter struct {
	Status rescue.ReadingStatus
	Tag    string
	Limit  int
}

// TagCount is one entry of the top-tags statistic.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats aggregates reading state over every article with content.
type Stats struct {
	TotalArticles int                          `json:"total_articles"`
	ByStatus      map[rescue.ReadingStatus]int `json:"by_status"`
	ByTier        map[rescue.Tier]int          `json:"by_tier"`
	UnreadMinutes int                          `json:"unread_minutes"`
	AverageRating float64                      `json:"average_rating,omitempty"`
	TopTags       []TagCount                   `json:"top_tags,omitempty"`
}

// Tracker reads articles from the store and keeps per-article progress in
// the progress store. Articles without a progress record count as unread.
type Tracker struct {
	store    rescue.Store
	progress rescue.ProgressStore
	clock    rescue.Clock
	logger   *zap.Logger
}

// New builds a Tracker.
func New(store rescue.Store, progress rescue.ProgressStore, clock rescue.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, progress: progress, clock: clock, logger: logger}
}

// Mark updates the reading status of an article. Moving into the reading
// status stamps the start time once; completing stamps the completion time
// and fills percent to 100 unless the request says otherwise.
func (t *Tracker) Mark(ctx context.Context, req MarkRequest) (rescue.Progress, error) {
	if !rescue.ValidReadingStatus(req.Status) {
		return rescue.Progress{}, fmt.Errorf("unknown reading status %q", req.Status)
	}
	if req.Percent != nil && (*req.Percent < 0 || *req.Percent > 100) {
		return rescue.Progress{}, fmt.Errorf("percent must be within 0..100, got %d", *req.Percent)
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return rescue.Progress{}, fmt.Errorf("rating must be within 1..5, got %d", *req.Rating)
	}
	if _, err := t.store.Get(ctx, req.URL); err != nil {
		return rescue.Progress{}, fmt.Errorf("look up article: %w", err)
	}

	progress, err := t.progress.GetProgress(ctx, req.URL)
	if errors.Is(err, rescue.ErrNotFound) {
		progress = rescue.Progress{URL: req.URL, Status: rescue.ReadingUnread}
	} else if err != nil {
		return rescue.Progress{}, fmt.Errorf("look up progress: %w", err)
	}

	now := t.clock.Now()
	progress.Status = req.Status
	if req.Percent != nil {
		progress.Percent = *req.Percent
	}
	if req.Rating != nil {
		progress.Rating = *req.Rating
	}
	if req.Notes != "" {
		progress.Notes = req.Notes
	}
	switch req.Status {
	case rescue.ReadingActive:
		if progress.StartedAt == nil {
			progress.StartedAt = &now
		}
	case rescue.ReadingCompleted:
		progress.CompletedAt = &now
		if req.Percent == nil {
			progress.Percent = 100
		}
	}

	if err := t.progress.UpsertProgress(ctx, progress); err != nil {
		return rescue.Progress{}, fmt.Errorf("persist progress: %w", err)
	}
	t.logger.Info("reading status updated",
		zap.String("url", req.URL),
		zap.String("status", string(req.Status)),
	)
	return progress, nil
}

// ReadingList returns articles with content matching the filter, newest
// added first. Score breaks ties so the backlog surfaces priorities.
func (t *Tracker) ReadingList(ctx context.Context, filter ListFilter) ([]Entry, error) {
	if filter.Status == "" {
		filter.Status = rescue.ReadingUnread
	}
	if !rescue.ValidReadingStatus(filter.Status) {
		return nil, fmt.Errorf("unknown reading status %q", filter.Status)
	}

	entries, err := t.join(ctx)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if e.Progress.Status != filter.Status {
			continue
		}
		if filter.Tag != "" && !tagMatches(e.Article.Tags, filter.Tag) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Article.Added.Equal(out[j].Article.Added) {
			return out[i].Article.Added.After(out[j].Article.Added)
		}
		return out[i].Article.Score > out[j].Article.Score
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Stats aggregates reading state over the whole corpus.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	entries, err := t.join(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByStatus: map[rescue.ReadingStatus]int{},
		ByTier:   map[rescue.Tier]int{},
	}
	tagCounts := map[string]int{}
	ratingSum, ratingN := 0, 0
	for _, e := range entries {
		stats.TotalArticles++
		stats.ByStatus[e.Progress.Status]++
		if e.Article.Tier != "" {
			stats.ByTier[e.Article.Tier]++
		}
		if e.Progress.Status == rescue.ReadingUnread {
			stats.UnreadMinutes += e.Article.ReadingTime
		}
		if e.Progress.Rating > 0 {
			ratingSum += e.Progress.Rating
			ratingN++
		}
		for _, tag := range e.Article.Tags {
			tagCounts[strings.ToLower(tag)]++
		}
	}
	if ratingN > 0 {
		stats.AverageRating = float64(ratingSum) / float64(ratingN)
	}
	stats.TopTags = topTags(tagCounts, 10)
	return stats, nil
}

// ExportCSV writes the joined reading data as CSV, newest added first.
func (t *Tracker) ExportCSV(ctx context.Context, w io.Writer) error {
	entries, err := t.join(ctx)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Article.Added.After(entries[j].Article.Added)
	})

	cw := csv.NewWriter(w)
	header := []string{
		"url", "title", "tags", "category", "reading_time",
		"reading_status", "percent", "rating", "notes",
		"date_added", "date_started", "date_completed",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.Article.URL,
			e.Article.Title,
			strings.Join(e.Article.Tags, ","),
			e.Article.Category,
			strconv.Itoa(e.Article.ReadingTime),
			string(e.Progress.Status),
			strconv.Itoa(e.Progress.Percent),
			strconv.Itoa(e.Progress.Rating),
			e.Progress.Notes,
			formatTime(&e.Article.Added),
			formatTime(e.Progress.StartedAt),
			formatTime(e.Progress.CompletedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// join pairs every article that carries content with its progress record,
// synthesizing an unread record where none exists yet.
func (t *Tracker) join(ctx context.Context) ([]Entry, error) {
	articles, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	records, err := t.progress.ListProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	byURL := make(map[string]rescue.Progress, len(records))
	for _, p := range records {
		byURL[p.URL] = p
	}

	var entries []Entry
	for _, article := range articles {
		if !article.HasBody() {
			continue
		}
		progress, ok := byURL[article.URL]
		if !ok {
			progress = rescue.Progress{URL: article.URL, Status: rescue.ReadingUnread}
		}
		entries = append(entries, Entry{Article: article, Progress: progress})
	}
	return entries, nil
}

func tagMatches(tags []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func topTags(counts map[string]int, limit int) []TagCount {
	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
