package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pocketrescue/internal/extract"
	"pocketrescue/internal/metrics"
	"pocketrescue/internal/rescue"
)

const stageName = "recover"

// Config controls the recovery pool.
type Config struct {
	Workers      int
	MaxSnapshots int
}

// Recoverer walks the still-invalid articles and tries to rebuild their
// content from archive snapshots. Every archive-bound request goes through
// the shared gate, so worker count never affects real request spacing.
type Recoverer struct {
	index     rescue.SnapshotIndex
	fetcher   rescue.Fetcher
	extractor *extract.Extractor
	store     rescue.Store
	gate      *Gate
	clock     rescue.Clock
	logger    *zap.Logger
	cfg       Config
}

// NewRecoverer constructs a Recoverer.
func NewRecoverer(
	index rescue.SnapshotIndex,
	fetcher rescue.Fetcher,
	extractor *extract.Extractor,
	store rescue.Store,
	gate *Gate,
	clock rescue.Clock,
	logger *zap.Logger,
	cfg Config,
) *Recoverer {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{
		index:     index,
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		gate:      gate,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run attempts recovery for every invalid article. Already-recovered
// articles are never touched, so the stage is safely re-runnable.
func (r *Recoverer) Run(ctx context.Context) (rescue.StageSummary, error) {
	articles, err := r.store.ListByState(ctx, rescue.LinkInvalid)
	if err != nil {
		return rescue.StageSummary{}, fmt.Errorf("list invalid articles: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = rescue.StageSummary{Stage: stageName}
	)

	queue := make(chan rescue.Article)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for article := range queue {
				failure, ok := r.recover(ctx, article)
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
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- article:
		}
	}
	close(queue)
	wg.Wait()

	r.logger.Info("archive recovery complete",
		zap.Int("recovered", summary.Succeeded),
		zap.Int("exhausted", summary.Failed),
	)
	return summary, ctx.Err()
}

// recover runs the per-article state machine: query the snapshot index,
// then walk snapshots newest-first until one yields extractable content.
func (r *Recoverer) recover(ctx context.Context, article rescue.Article) (rescue.Failure, bool) {
	if err := r.gate.Wait(ctx); err != nil {
		return rescue.Failure{URL: article.URL, Kind: "canceled"}, false
	}
	snapshots, err := r.index.Snapshots(ctx, article.URL)
	if err != nil {
		metrics.ObserveArchiveQuery("error")
		metrics.ObserveStageOutcome(stageName, "query_failed")
		return rescue.Failure{URL: article.URL, Kind: "archive-query-failure", Detail: err.Error()}, false
	}
	if len(snapshots) == 0 {
		metrics.ObserveArchiveQuery("miss")
		metrics.ObserveStageOutcome(stageName, "no_snapshot")
		return rescue.Failure{URL: article.URL, Kind: "archive-miss"}, false
	}
	metrics.ObserveArchiveQuery("hit")

	tried := 0
	for _, snapshot := range snapshots {
		if tried >= r.cfg.MaxSnapshots {
			break
		}
		tried++
		if err := r.gate.Wait(ctx); err != nil {
			return rescue.Failure{URL: article.URL, Kind: "canceled"}, false
		}
		res := r.fetcher.Fetch(ctx, snapshot.ArchiveURL)
		if !res.OK() {
			r.logger.Debug("snapshot fetch failed",
				zap.String("url", article.URL),
				zap.String("snapshot", snapshot.ArchiveURL),
				zap.String("kind", res.FailureLabel()),
			)
			continue
		}
		extracted, err := r.extractor.Extract(snapshot.ArchiveURL, res.Body)
		if err != nil {
			continue
		}
		if err := r.persist(ctx, article, snapshot, extracted); err != nil {
			return rescue.Failure{URL: article.URL, Kind: "store-error", Detail: err.Error()}, false
		}
		metrics.ObserveStageOutcome(stageName, "recovered")
		return rescue.Failure{}, true
	}

	metrics.ObserveStageOutcome(stageName, "exhausted")
	return rescue.Failure{URL: article.URL, Kind: "exhausted", Detail: fmt.Sprintf("%d snapshots tried", tried)}, false
}

func (r *Recoverer) persist(
	ctx context.Context,
	article rescue.Article,
	snapshot rescue.Snapshot,
	extracted extract.Result,
) error {
	// The archive serves its own chrome around old pages; prefer the
	// bookmark's original title when extraction returned the archive's.
	if extracted.Title != "" && !strings.Contains(extracted.Title, "Wayback Machine") {
		article.Title = extracted.Title
	}
	article.Body = extracted.Body
	article.LinkState = rescue.LinkRecovered
	article.Source = rescue.SourceArchive
	article.ArchiveURL = snapshot.ArchiveURL
	article.ScrapeMethod = "wayback"
	if article.ReadingTime == 0 {
		article.ReadingTime = extract.ReadingMinutes(extracted.Body)
	}
	now := r.clock.Now()
	article.ScrapedAt = &now

	if err := r.store.Upsert(ctx, article); err != nil {
		return fmt.Errorf("persist recovered article: %w", err)
	}
	r.logger.Info("article recovered from archive",
		zap.String("url", article.URL),
		zap.Time("snapshot", snapshot.Timestamp),
	)
	return nil
}
