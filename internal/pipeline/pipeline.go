// Package pipeline coordinates the rescue stages over a shared store.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pocketrescue/internal/index"
	"pocketrescue/internal/metrics"
	"pocketrescue/internal/rescue"
	"pocketrescue/internal/score"
	"pocketrescue/internal/validate"
)

// Validator partitions articles by link health.
type Validator interface {
	Run(ctx context.Context) (validate.Partition, rescue.StageSummary, error)
}

// Stage is a pipeline step that reads and writes the shared store.
type Stage interface {
	Run(ctx context.Context) (rescue.StageSummary, error)
}

// RunReport is the durable record of one pipeline run.
type RunReport struct {
	RunID    string                `json:"run_id"`
	Started  time.Time             `json:"started"`
	Finished time.Time             `json:"finished"`
	Stages   []rescue.StageSummary `json:"stages"`
}

// Pipeline wires the stages together. Every article mutation is persisted
// by the owning stage before the next stage starts, so an interrupted run
// resumes from the store alone.
type Pipeline struct {
	validator Validator
	scraper   Stage
	recoverer Stage
	scorer    *score.Scorer
	organizer Stage
	searchIdx *index.Index
	store     rescue.Store
	blobs     rescue.BlobStore
	clock     rescue.Clock
	logger    *zap.Logger

	mu         sync.RWMutex
	lastReport *RunReport
}

// New assembles a Pipeline.
func New(
	validator Validator,
	scraper Stage,
	recoverer Stage,
	scorer *score.Scorer,
	organizer Stage,
	searchIdx *index.Index,
	store rescue.Store,
	blobs rescue.BlobStore,
	clock rescue.Clock,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		validator: validator,
		scraper:   scraper,
		recoverer: recoverer,
		scorer:    scorer,
		organizer: organizer,
		searchIdx: searchIdx,
		store:     store,
		blobs:     blobs,
		clock:     clock,
		logger:    logger,
	}
}

// Index exposes the search index built by the last run.
func (p *Pipeline) Index() *index.Index {
	return p.searchIdx
}

// LastReport returns the report of the most recent run, if any.
func (p *Pipeline) LastReport() *RunReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastReport
}

// Run executes validate, extract, recover, score, organize and index in
// order. A canceled context stops dispatch between stages; work already
// persisted stays persisted.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{
		RunID:   uuid.NewString(),
		Started: p.clock.Now(),
	}
	p.logger.Info("pipeline run starting", zap.String("run_id", report.RunID))

	err := p.runStages(ctx, &report)

	report.Finished = p.clock.Now()
	p.setLastReport(report)
	if writeErr := p.writeReport(ctx, report); writeErr != nil {
		p.logger.Warn("failed to write run report", zap.Error(writeErr))
	}

	for _, stage := range report.Stages {
		p.logger.Info("stage summary",
			zap.String("run_id", report.RunID),
			zap.String("stage", stage.Stage),
			zap.Int("succeeded", stage.Succeeded),
			zap.Int("failed", stage.Failed),
			zap.Int("skipped", stage.Skipped),
		)
	}
	return report, err
}

func (p *Pipeline) runStages(ctx context.Context, report *RunReport) error {
	partition, summary, err := p.validator.Run(ctx)
	report.Stages = append(report.Stages, summary)
	if err != nil {
		return fmt.Errorf("validate stage: %w", err)
	}
	p.logger.Info("links validated",
		zap.Int("valid", len(partition.Valid)),
		zap.Int("invalid", len(partition.Invalid)),
		zap.Int("skipped", len(partition.Skipped)),
	)

	for _, stage := range []struct {
		name string
		run  Stage
	}{
		{"extract", p.scraper},
		{"recover", p.recoverer},
	} {
		summary, err := stage.run.Run(ctx)
		report.Stages = append(report.Stages, summary)
		if err != nil {
			return fmt.Errorf("%s stage: %w", stage.name, err)
		}
	}

	summary, err = p.scoreAll(ctx)
	report.Stages = append(report.Stages, summary)
	if err != nil {
		return fmt.Errorf("score stage: %w", err)
	}

	summary, err = p.organizer.Run(ctx)
	report.Stages = append(report.Stages, summary)
	if err != nil {
		return fmt.Errorf("organize stage: %w", err)
	}

	summary, err = p.buildIndex(ctx)
	report.Stages = append(report.Stages, summary)
	if err != nil {
		return fmt.Errorf("index stage: %w", err)
	}
	return nil
}

// scoreAll recomputes score and tier for every article. Scoring is pure
// and cheap, so it always runs over the full set instead of tracking
// which articles changed.
func (p *Pipeline) scoreAll(ctx context.Context) (rescue.StageSummary, error) {
	summary := rescue.StageSummary{Stage: "score"}
	articles, err := p.store.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("list articles: %w", err)
	}

	now := p.clock.Now()
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		article.Score, article.Tier = p.scorer.Score(article, now)
		if err := p.store.Upsert(ctx, article); err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, rescue.Failure{
				URL: article.URL, Kind: "store-error", Detail: err.Error(),
			})
			continue
		}
		summary.Succeeded++
		metrics.ObserveStageOutcome("score", "scored")
	}
	return summary, nil
}

func (p *Pipeline) buildIndex(ctx context.Context) (rescue.StageSummary, error) {
	summary := rescue.StageSummary{Stage: "index"}
	n, err := p.searchIdx.Build(ctx, p.store)
	if err != nil {
		return summary, fmt.Errorf("build index: %w", err)
	}
	summary.Succeeded = n

	artifact, err := p.searchIdx.Serialize()
	if err != nil {
		return summary, fmt.Errorf("serialize index: %w", err)
	}
	if _, err := p.blobs.PutObject(ctx, "search_index.json", "application/json", artifact); err != nil {
		return summary, fmt.Errorf("write index artifact: %w", err)
	}
	return summary, nil
}

func (p *Pipeline) writeReport(ctx context.Context, report RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	path := fmt.Sprintf("runs/%s.json", report.RunID)
	if _, err := p.blobs.PutObject(ctx, path, "application/json", data); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}

func (p *Pipeline) setLastReport(report RunReport) {
	p.mu.Lock()
	p.lastReport = &report
	p.mu.Unlock()
}
