package extract

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pocketrescue/internal/metrics"
	"pocketrescue/internal/rescue"
)

const stageName = "extract"

// StageConfig controls the scrape pool.
type StageConfig struct {
	Workers int
}

// Scraper runs the extraction chain over every valid article that still
// lacks body text. It is the main throughput cost of the pipeline.
type Scraper struct {
	fetcher   rescue.Fetcher
	extractor *Extractor
	store     rescue.Store
	clock     rescue.Clock
	logger    *zap.Logger
	cfg       StageConfig
}

// NewScraper constructs a Scraper.
func NewScraper(
	fetcher rescue.Fetcher,
	extractor *Extractor,
	store rescue.Store,
	clock rescue.Clock,
	logger *zap.Logger,
	cfg StageConfig,
) *Scraper {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run scrapes content for valid articles without a body. Articles that
// already carry content are skipped, which makes re-entry free.
func (s *Scraper) Run(ctx context.Context) (rescue.StageSummary, error) {
	articles, err := s.store.ListByState(ctx, rescue.LinkValid)
	if err != nil {
		return rescue.StageSummary{}, fmt.Errorf("list valid articles: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = rescue.StageSummary{Stage: stageName}
	)

	queue := make(chan rescue.Article)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for article := range queue {
				failure, ok := s.scrape(ctx, article)
				mu.Lock()
				if ok {
					summary.Succeeded++
				} else {
					summary.Failed++
					summary.Failures = append(summary.Failures, failure)
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, article := range articles {
		if article.HasBody() {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			metrics.ObserveStageOutcome(stageName, "skipped")
			continue
		}
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- article:
		}
	}
	close(queue)
	wg.Wait()

	s.logger.Info("extraction complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, ctx.Err()
}

func (s *Scraper) scrape(ctx context.Context, article rescue.Article) (rescue.Failure, bool) {
	res := s.fetcher.Fetch(ctx, article.URL)
	if !res.OK() {
		metrics.ObserveStageOutcome(stageName, "fetch_failed")
		return rescue.Failure{URL: article.URL, Kind: res.FailureLabel()}, false
	}

	extracted, err := s.extractor.Extract(article.URL, res.Body)
	if err != nil {
		metrics.ObserveStageOutcome(stageName, "extraction_failed")
		return rescue.Failure{URL: article.URL, Kind: "extraction-failure", Detail: err.Error()}, false
	}

	if extracted.Title != "" {
		article.Title = extracted.Title
	}
	article.Body = extracted.Body
	article.Source = rescue.SourceLive
	article.ScrapeMethod = extracted.Method
	if article.ReadingTime == 0 {
		article.ReadingTime = ReadingMinutes(extracted.Body)
	}
	now := s.clock.Now()
	article.ScrapedAt = &now

	if err := s.store.Upsert(ctx, article); err != nil {
		s.logger.Error("persist scraped article", zap.String("url", article.URL), zap.Error(err))
		return rescue.Failure{URL: article.URL, Kind: "store-error", Detail: err.Error()}, false
	}
	metrics.ObserveStageOutcome(stageName, "succeeded")
	s.logger.Debug("article scraped",
		zap.String("url", article.URL),
		zap.String("method", extracted.Method),
		zap.Int("chars", len(extracted.Body)),
	)
	return rescue.Failure{}, true
}
