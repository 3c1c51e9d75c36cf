// Package organize sorts rescued articles into category folders and
// renders one markdown document per article.
package organize

import (
	"context"
	"crypto/md5" // #nosec G501 -- filename uniqueness only, not security.
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"pocketrescue/internal/metrics"
	"pocketrescue/internal/rescue"
)

const stageName = "organize"

// CategoryRule routes an article into a named folder. Every constraint
// that is set must match; an unconstrained rule matches everything.
// Tag keywords match by substring against the article's lowercased tags.
type CategoryRule struct {
	Name       string
	Tags       []string
	Statuses   []string
	Tiers      []rescue.Tier
	MinMinutes int
	MaxMinutes int
}

func (r CategoryRule) matches(article rescue.Article) bool {
	if len(r.Tags) > 0 && !anyTagContains(article.Tags, r.Tags) {
		return false
	}
	if len(r.Statuses) > 0 && !containsFold(r.Statuses, article.Status) {
		return false
	}
	if len(r.Tiers) > 0 && !containsTier(r.Tiers, article.Tier) {
		return false
	}
	if r.MinMinutes > 0 && article.ReadingTime < r.MinMinutes {
		return false
	}
	if r.MaxMinutes > 0 && (article.ReadingTime == 0 || article.ReadingTime > r.MaxMinutes) {
		return false
	}
	return true
}

func (r CategoryRule) unconstrained() bool {
	return len(r.Tags) == 0 && len(r.Statuses) == 0 && len(r.Tiers) == 0 &&
		r.MinMinutes == 0 && r.MaxMinutes == 0
}

func anyTagContains(tags, keywords []string) bool {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func containsTier(tiers []rescue.Tier, tier rescue.Tier) bool {
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// DefaultRules is the stock category table. Order matters: the first
// matching rule wins and the final catch-all takes whatever is left.
func DefaultRules() []CategoryRule {
	return []CategoryRule{
		{Name: "programming", Tags: []string{"programming", "coding", "development", "python", "javascript", "tech"}},
		{Name: "reading", Tags: []string{"_reading", "_practice", "education", "learning"}},
		{Name: "productivity", Tags: []string{"productivity", "gtd", "time", "management"}},
		{Name: "security", Tags: []string{"security", "hacking", "privacy", "cryptography"}},
		{Name: "games", Tags: []string{"gamedev", "games", "gaming"}},
		{Name: "career", Tags: []string{"career", "job", "work", "interview"}},
		{Name: "quick_reads", MaxMinutes: 5},
		{Name: "long_reads", MinMinutes: 30},
		{Name: "archived", Statuses: []string{rescue.StatusArchived}},
		{Name: "uncategorized"},
	}
}

// Organizer renders rescued articles into category folders through the
// blob store and records each article's category.
type Organizer struct {
	store  rescue.Store
	blobs  rescue.BlobStore
	rules  []CategoryRule
	logger *zap.Logger
}

// New builds an Organizer. The rule table must end in an unconstrained
// catch-all so no article is left without a folder.
func New(store rescue.Store, blobs rescue.BlobStore, rules []CategoryRule, logger *zap.Logger) (*Organizer, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	last := rules[len(rules)-1]
	if !last.unconstrained() {
		return nil, fmt.Errorf("category rules must end with an unconstrained catch-all, last is %q", last.Name)
	}
	for _, rule := range rules {
		if strings.TrimSpace(rule.Name) == "" {
			return nil, fmt.Errorf("category rule with empty name")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Organizer{store: store, blobs: blobs, rules: rules, logger: logger}, nil
}

// Categorize returns the folder name for an article under the rule table.
func (o *Organizer) Categorize(article rescue.Article) string {
	for _, rule := range o.rules {
		if rule.matches(article) {
			return rule.Name
		}
	}
	// Unreachable given the catch-all check in New.
	return o.rules[len(o.rules)-1].Name
}

// Run renders every article that carries content. Articles without a body
// have nothing to file and are skipped.
func (o *Organizer) Run(ctx context.Context) (rescue.StageSummary, error) {
	articles, err := o.store.List(ctx)
	if err != nil {
		return rescue.StageSummary{}, fmt.Errorf("list articles: %w", err)
	}

	summary := rescue.StageSummary{Stage: stageName}
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !article.HasBody() {
			summary.Skipped++
			continue
		}
		if err := o.file(ctx, article); err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, rescue.Failure{
				URL: article.URL, Kind: "organize-failure", Detail: err.Error(),
			})
			metrics.ObserveStageOutcome(stageName, "failed")
			continue
		}
		summary.Succeeded++
		metrics.ObserveStageOutcome(stageName, "filed")
	}

	o.logger.Info("articles organized",
		zap.Int("filed", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (o *Organizer) file(ctx context.Context, article rescue.Article) error {
	category := o.Categorize(article)
	path := category + "/" + Filename(article.Title, article.URL)
	if _, err := o.blobs.PutObject(ctx, path, "text/markdown", []byte(Render(article))); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	article.Category = category
	if err := o.store.Upsert(ctx, article); err != nil {
		return fmt.Errorf("persist category: %w", err)
	}
	return nil
}

// Render produces the markdown document for an article.
func Render(article rescue.Article) string {
	var b strings.Builder
	title := article.Title
	if title == "" {
		title = hostOf(article.URL)
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**URL:** %s\n", article.URL)
	fmt.Fprintf(&b, "**Tags:** %s\n", strings.Join(article.Tags, ", "))
	if !article.Added.IsZero() {
		fmt.Fprintf(&b, "**Date Added:** %s\n", article.Added.Format(time.DateOnly))
	}
	fmt.Fprintf(&b, "**Status:** %s\n", article.Status)
	if article.LinkState == rescue.LinkRecovered && article.ArchiveURL != "" {
		fmt.Fprintf(&b, "**Archived Copy:** %s\n", article.ArchiveURL)
	}
	fmt.Fprintf(&b, "\n---\n\n%s\n", article.Body)
	return b.String()
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Filename builds a filesystem-safe markdown filename from the title, with
// a short URL hash for uniqueness across identically titled articles.
func Filename(title, rawURL string) string {
	if strings.TrimSpace(title) == "" {
		title = hostOf(rawURL)
	}
	cleaned := invalidFilenameChars.ReplaceAllString(title, "")
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	if len(cleaned) > 100 {
		cleaned = cleaned[:100]
	}
	sum := md5.Sum([]byte(rawURL)) // #nosec G401 -- uniqueness suffix only.
	return fmt.Sprintf("%s_%x.md", cleaned, sum[:4])
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "article"
	}
	return u.Host
}
