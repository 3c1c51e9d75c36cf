// Package memory provides an in-memory article store for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"pocketrescue/internal/rescue"
)

// Store keeps articles and reading progress in mutex-protected maps keyed
// by URL.
type Store struct {
	mu       sync.RWMutex
	articles map[string]rescue.Article
	progress map[string]rescue.Progress
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		articles: make(map[string]rescue.Article),
		progress: make(map[string]rescue.Progress),
	}
}

// Get fetches an article by URL.
func (s *Store) Get(_ context.Context, url string) (rescue.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[url]
	if !ok {
		return rescue.Article{}, rescue.ErrNotFound
	}
	return clone(article), nil
}

// Upsert inserts or replaces the article keyed by its URL.
func (s *Store) Upsert(_ context.Context, article rescue.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[article.URL] = clone(article)
	return nil
}

// List returns all articles ordered by URL for stable iteration.
func (s *Store) List(_ context.Context) ([]rescue.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rescue.Article, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// ListByState returns all articles whose link state matches any given state.
func (s *Store) ListByState(ctx context.Context, states ...rescue.LinkState) ([]rescue.Article, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []rescue.Article
	for _, a := range all {
		for _, st := range states {
			if a.LinkState == st {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

// GetProgress fetches the reading progress for a URL.
func (s *Store) GetProgress(_ context.Context, url string) (rescue.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[url]
	if !ok {
		return rescue.Progress{}, rescue.ErrNotFound
	}
	return cloneProgress(p), nil
}

// UpsertProgress inserts or replaces the progress record for its URL.
func (s *Store) UpsertProgress(_ context.Context, progress rescue.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[progress.URL] = cloneProgress(progress)
	return nil
}

// ListProgress returns all progress records ordered by URL.
func (s *Store) ListProgress(_ context.Context) ([]rescue.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rescue.Progress, 0, len(s.progress))
	for _, p := range s.progress {
		out = append(out, cloneProgress(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func clone(a rescue.Article) rescue.Article {
	if a.Tags != nil {
		tags := make([]string, len(a.Tags))
		copy(tags, a.Tags)
		a.Tags = tags
	}
	if a.ScrapedAt != nil {
		ts := *a.ScrapedAt
		a.ScrapedAt = &ts
	}
	return a
}

func cloneProgress(p rescue.Progress) rescue.Progress {
	if p.StartedAt != nil {
		ts := *p.StartedAt
		p.StartedAt = &ts
	}
	if p.CompletedAt != nil {
		ts := *p.CompletedAt
		p.CompletedAt = &ts
	}
	return p
}
