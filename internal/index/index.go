// Package index builds an in-memory inverted search index over rescued
// articles and serves ranked full-text queries.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"pocketrescue/internal/rescue"
)

const (
	titleWeight   = 10
	tagWeight     = 8
	partialWeight = 1
	minTokenLen   = 3
)

var wordPattern = regexp.MustCompile(`\w+`)

// Posting is one (article, weight) entry in a token's posting list. The
// weight folds in the field multipliers at build time: a title hit weighs
// 10, a tag hit 8 and body hits their occurrence count, summed when the
// token appears in several fields.
type Posting struct {
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// Document is the per-article metadata kept alongside the postings for
// rendering results and breaking ranking ties.
type Document struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Category string    `json:"category,omitempty"`
	Added    time.Time `json:"added"`
}

// Result is a ranked search hit.
type Result struct {
	URL      string
	Title    string
	Category string
	Score    int
}

// Index maps each token to its weighted posting list. Safe for concurrent
// search while a rebuild swaps contents in.
type Index struct {
	mu       sync.RWMutex
	postings map[string][]Posting
	docs     map[string]Document
}

// New returns an empty index.
func New() *Index {
	return &Index{postings: map[string][]Posting{}, docs: map[string]Document{}}
}

// Tokenize lower-cases the text and returns word tokens of at least three
// characters. The length rule doubles as a crude stop-word filter.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(word) >= minTokenLen {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// Build replaces the index contents from the store. Only articles that
// carry content are indexed, so the index is always rebuildable from the
// store alone.
func (x *Index) Build(ctx context.Context, store rescue.Store) (int, error) {
	articles, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list articles: %w", err)
	}

	postings := map[string][]Posting{}
	docs := make(map[string]Document, len(articles))
	for _, article := range articles {
		if !article.HasBody() {
			continue
		}
		docs[article.URL] = metadata(article)
		for token, weight := range tokenWeights(article) {
			postings[token] = append(postings[token], Posting{URL: article.URL, Weight: weight})
		}
	}

	x.mu.Lock()
	x.postings = postings
	x.docs = docs
	x.mu.Unlock()
	return len(docs), nil
}

// Add indexes or reindexes a single article.
func (x *Index) Add(article rescue.Article) {
	if !article.HasBody() {
		return
	}
	weights := tokenWeights(article)
	meta := metadata(article)

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.docs[article.URL]; ok {
		x.removeLocked(article.URL)
	}
	x.docs[article.URL] = meta
	for token, weight := range weights {
		x.postings[token] = append(x.postings[token], Posting{URL: article.URL, Weight: weight})
	}
}

// removeLocked drops every posting for the URL. Caller holds the write lock.
func (x *Index) removeLocked(url string) {
	for token, list := range x.postings {
		kept := list[:0]
		for _, p := range list {
			if p.URL != url {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(x.postings, token)
		} else {
			x.postings[token] = kept
		}
	}
	delete(x.docs, url)
}

// tokenWeights computes the posting weight of every token in the article.
func tokenWeights(article rescue.Article) map[string]int {
	weights := map[string]int{}
	for token := range tokenSet(article.Title) {
		weights[token] += titleWeight
	}
	for token := range tokenSet(strings.Join(article.Tags, " ")) {
		weights[token] += tagWeight
	}
	for _, token := range Tokenize(article.Body) {
		weights[token]++
	}
	return weights
}

func tokenSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, token := range Tokenize(text) {
		set[token] = struct{}{}
	}
	return set
}

func metadata(article rescue.Article) Document {
	return Document{
		URL:      article.URL,
		Title:    article.Title,
		Category: article.Category,
		Added:    article.Added,
	}
}

// Len reports the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Search ranks articles against the query by summing posting weights for
// each query token: title hits weigh 10, tag hits 8, body hits their token
// frequency, and partial token overlaps 1. Ties break toward the most
// recently added article.
func (x *Index) Search(query string, limit int) []Result {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	scores := map[string]int{}
	for _, token := range tokens {
		for _, p := range x.postings[token] {
			scores[p.URL] += p.Weight
		}
		for indexed, list := range x.postings {
			if indexed == token {
				continue
			}
			if strings.Contains(indexed, token) || strings.Contains(token, indexed) {
				for _, p := range list {
					scores[p.URL] += partialWeight
				}
			}
		}
	}

	type scored struct {
		Result
		added time.Time
	}
	hits := make([]scored, 0, len(scores))
	for url, score := range scores {
		doc := x.docs[url]
		hits = append(hits, scored{
			Result: Result{URL: url, Title: doc.Title, Category: doc.Category, Score: score},
			added:  doc.Added,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].added.After(hits[j].added)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = h.Result
	}
	return results
}

// artifact is the serialized index: the token-to-postings mapping plus the
// document metadata needed to render ranked results.
type artifact struct {
	Postings  map[string][]Posting `json:"postings"`
	Documents map[string]Document  `json:"documents"`
}

// Serialize renders the index as a JSON artifact.
func (x *Index) Serialize() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return json.MarshalIndent(artifact{Postings: x.postings, Documents: x.docs}, "", "  ")
}

// Load replaces the index contents from a serialized artifact.
func (x *Index) Load(data []byte) error {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decode index artifact: %w", err)
	}
	if a.Postings == nil {
		a.Postings = map[string][]Posting{}
	}
	if a.Documents == nil {
		a.Documents = map[string]Document{}
	}
	x.mu.Lock()
	x.postings = a.Postings
	x.docs = a.Documents
	x.mu.Unlock()
	return nil
}
