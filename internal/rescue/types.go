// Package rescue defines core types shared across pipeline stages.
package rescue

import (
	"strconv"
	"strings"
	"time"
)

// LinkState tracks the validation/recovery lifecycle of an article URL.
type LinkState string

// Link states persisted in the article store. Transitions only move
// unchecked -> {valid, invalid} and invalid -> recovered.
const (
	LinkUnchecked LinkState = "unchecked"
	LinkValid     LinkState = "valid"
	LinkInvalid   LinkState = "invalid"
	LinkRecovered LinkState = "recovered"
)

// ContentSource records where an article's body text came from.
type ContentSource string

// Content source values.
const (
	SourceNone    ContentSource = "none"
	SourceLive    ContentSource = "live"
	SourceArchive ContentSource = "archive"
)

// Tier is the discrete priority bucket derived from a numeric score.
type Tier string

// Priority tiers, highest first.
const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
	TierMinimal  Tier = "minimal"
)

// Article statuses reported by the bookmark source.
const (
	StatusUnread   = "unread"
	StatusArchived = "archive"
)

// Article is the unit of work flowing through the pipeline, keyed by URL.
// Each stage mutates it in place and persists it before the next stage runs.
type Article struct {
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	Tags         []string      `json:"tags"`
	Status       string        `json:"status"`
	Added        time.Time     `json:"added"`
	ReadingTime  int           `json:"reading_time_minutes"`
	LinkState    LinkState     `json:"link_state"`
	Body         string        `json:"body,omitempty"`
	Source       ContentSource `json:"source"`
	Score        int           `json:"score"`
	Tier         Tier          `json:"tier,omitempty"`
	Category     string        `json:"category,omitempty"`
	ArchiveURL   string        `json:"archive_url,omitempty"`
	ScrapeMethod string        `json:"scrape_method,omitempty"`
	ScrapedAt    *time.Time    `json:"scraped_at,omitempty"`
}

// HasBody reports whether the article carries extracted content. The store
// invariant is that this holds iff LinkState is valid or recovered.
func (a Article) HasBody() bool {
	return a.Body != ""
}

// HasTag reports whether the article carries the given tag, case-insensitive.
func (a Article) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// FailureKind classifies why a fetch did not produce usable content.
type FailureKind string

// Fetch failure kinds. An empty kind means the fetch succeeded.
const (
	FailureNone         FailureKind = ""
	FailureTimeout      FailureKind = "timeout"
	FailureConnection   FailureKind = "connection-error"
	FailureHTTP         FailureKind = "http-error"
	FailureRedirectLoop FailureKind = "redirect-loop"
)

// FetchResult is the outcome of a single HTTP probe. Remote failure is
// carried as data, never as a Go error.
type FetchResult struct {
	URL        string
	StatusCode int
	Kind       FailureKind
	Elapsed    time.Duration
	Body       []byte
}

// OK reports whether the fetch reached the remote and got a 2xx/3xx answer.
func (r FetchResult) OK() bool {
	return r.Kind == FailureNone && r.StatusCode >= 200 && r.StatusCode < 400
}

// FailureLabel renders the failure for summaries and logs.
func (r FetchResult) FailureLabel() string {
	if r.Kind == FailureHTTP {
		return string(FailureHTTP) + ":" + strconv.Itoa(r.StatusCode)
	}
	return string(r.Kind)
}

// Snapshot is an archived capture of a URL at a point in time.
type Snapshot struct {
	Timestamp  time.Time
	Original   string
	ArchiveURL string
}

// ReadingStatus tracks how far the user has gotten with a rescued article.
// This is user state, separate from the pipeline's LinkState.
type ReadingStatus string

// Reading statuses. An article without a progress record counts as unread.
const (
	ReadingUnread    ReadingStatus = "unread"
	ReadingActive    ReadingStatus = "reading"
	ReadingCompleted ReadingStatus = "completed"
	ReadingSkipped   ReadingStatus = "skipped"
)

// ValidReadingStatus reports whether s is one of the known statuses.
func ValidReadingStatus(s ReadingStatus) bool {
	switch s {
	case ReadingUnread, ReadingActive, ReadingCompleted, ReadingSkipped:
		return true
	}
	return false
}

// Progress is the user's reading state for one article, keyed by URL.
type Progress struct {
	URL         string        `json:"url"`
	Status      ReadingStatus `json:"status"`
	Percent     int           `json:"percent"`
	Rating      int           `json:"rating,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
