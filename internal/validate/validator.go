// Package validate drives the HTTP probe over the full article set with a
// bounded worker pool and classifies every URL as valid or invalid.
package validate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pocketrescue/internal/metrics"
	"pocketrescue/internal/rescue"
)

const stageName = "validate"

// Config controls pool size and skip policy.
type Config struct {
	Workers         int
	IncludeArchived bool
	ForceRecheck    bool
	PerDomainRPS    float64
	PerDomainBurst  int
}

// Partition is the result set emitted for downstream stages.
type Partition struct {
	Valid   []string
	Invalid []string
	Skipped []string
}

// Validator checks link health for every article in the store.
type Validator struct {
	fetcher rescue.Fetcher
	store   rescue.Store
	limiter *domainLimiter
	logger  *zap.Logger
	cfg     Config
}

// New constructs a Validator.
func New(fetcher rescue.Fetcher, store rescue.Store, logger *zap.Logger, cfg Config) *Validator {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		fetcher: fetcher,
		store:   store,
		limiter: newDomainLimiter(cfg.PerDomainRPS, cfg.PerDomainBurst),
		logger:  logger,
		cfg:     cfg,
	}
}

// Run validates every unchecked article. Articles already past validation
// keep their state unless ForceRecheck is set; archived-status articles are
// skipped unless IncludeArchived is set. Completion order is not guaranteed.
func (v *Validator) Run(ctx context.Context) (Partition, rescue.StageSummary, error) {
	articles, err := v.store.List(ctx)
	if err != nil {
		return Partition{}, rescue.StageSummary{}, fmt.Errorf("list articles: %w", err)
	}

	var (
		mu        sync.Mutex
		partition Partition
		summary   = rescue.StageSummary{Stage: stageName}
	)

	queue := make(chan rescue.Article)
	var wg sync.WaitGroup
	for i := 0; i < v.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for article := range queue {
				state, res := v.check(ctx, article)
				mu.Lock()
				switch state {
				case rescue.LinkValid:
					partition.Valid = append(partition.Valid, article.URL)
					summary.Succeeded++
				case rescue.LinkInvalid:
					partition.Invalid = append(partition.Invalid, article.URL)
					summary.Failed++
					summary.Failures = append(summary.Failures, rescue.Failure{
						URL:  article.URL,
						Kind: res.FailureLabel(),
					})
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, article := range articles {
		if skip, reason := v.shouldSkip(article); skip {
			mu.Lock()
			summary.Skipped++
			partition = v.partitionSkipped(partition, article)
			mu.Unlock()
			metrics.ObserveStageOutcome(stageName, "skipped")
			v.logger.Debug("validation skipped",
				zap.String("url", article.URL),
				zap.String("reason", reason),
			)
			continue
		}
		select {
		case <-ctx.Done():
			// Stop dispatching promptly; in-flight probes finish on their own.
			break dispatch
		case queue <- article:
		}
	}
	close(queue)
	wg.Wait()

	v.logger.Info("validation complete",
		zap.Int("valid", len(partition.Valid)),
		zap.Int("invalid", len(partition.Invalid)),
		zap.Int("skipped", summary.Skipped),
	)
	return partition, summary, ctx.Err()
}

// check probes one URL and persists the resulting link state.
func (v *Validator) check(ctx context.Context, article rescue.Article) (rescue.LinkState, rescue.FetchResult) {
	if err := v.limiter.Wait(ctx, article.URL); err != nil {
		return article.LinkState, rescue.FetchResult{URL: article.URL, Kind: rescue.FailureConnection}
	}
	res := v.fetcher.Fetch(ctx, article.URL)
	if !res.OK() && ctx.Err() != nil {
		// An interrupt killed the probe mid-flight; the URL was never
		// really checked. Leave its state alone so the next run probes it
		// again instead of sending a healthy link to archive recovery.
		// A 2xx/3xx answer that raced the interrupt is still a real result
		// and persists below.
		return article.LinkState, res
	}

	state := rescue.LinkInvalid
	outcome := "invalid"
	if res.OK() {
		state = rescue.LinkValid
		outcome = "valid"
	}
	article.LinkState = state
	if err := v.store.Upsert(ctx, article); err != nil {
		v.logger.Error("persist link state", zap.String("url", article.URL), zap.Error(err))
	}
	metrics.ObserveStageOutcome(stageName, outcome)
	return state, res
}

func (v *Validator) shouldSkip(article rescue.Article) (bool, string) {
	if article.LinkState == rescue.LinkRecovered {
		// Recovered content is durable; rechecking the dead original could
		// only move the state backward.
		return true, "already recovered"
	}
	if article.Status == rescue.StatusArchived && !v.cfg.IncludeArchived {
		return true, "archived status"
	}
	if article.LinkState != rescue.LinkUnchecked && !v.cfg.ForceRecheck {
		return true, "already checked"
	}
	return false, ""
}

// partitionSkipped routes already-checked articles into the partition their
// persisted state calls for, so downstream stages still see them.
func (v *Validator) partitionSkipped(p Partition, article rescue.Article) Partition {
	switch article.LinkState {
	case rescue.LinkValid:
		p.Valid = append(p.Valid, article.URL)
	case rescue.LinkInvalid:
		p.Invalid = append(p.Invalid, article.URL)
	default:
		p.Skipped = append(p.Skipped, article.URL)
	}
	return p
}
