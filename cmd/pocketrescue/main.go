// Package main wires together the bookmark rescue pipeline binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pocketrescue/internal/api"
	"pocketrescue/internal/archive"
	"pocketrescue/internal/clock/system"
	"pocketrescue/internal/config"
	"pocketrescue/internal/extract"
	"pocketrescue/internal/fetch"
	"pocketrescue/internal/index"
	"pocketrescue/internal/ingest"
	"pocketrescue/internal/logging"
	"pocketrescue/internal/metrics"
	"pocketrescue/internal/organize"
	"pocketrescue/internal/pipeline"
	"pocketrescue/internal/rescue"
	"pocketrescue/internal/score"
	"pocketrescue/internal/store/local"
	"pocketrescue/internal/store/memory"
	"pocketrescue/internal/store/sqlite"
	"pocketrescue/internal/track"
	"pocketrescue/internal/validate"
)

// articleStore is what the wiring needs from a storage backend: article
// persistence plus reading-progress persistence.
type articleStore interface {
	rescue.Store
	rescue.ProgressStore
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	csvPath := flag.String("csv", "", "Bookmark CSV export to import before the run")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *csvPath, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, csvPath string, logger *zap.Logger) error {
	// The output directory doubles as the sqlite database location, so it
	// has to exist before the store opens.
	blobs, err := local.New(local.Config{BaseDir: cfg.Organize.BaseDir})
	if err != nil {
		return fmt.Errorf("open output directory: %w", err)
	}

	store, closeStore, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("open article store: %w", err)
	}
	defer closeStore()

	if csvPath != "" {
		f, err := os.Open(csvPath) // #nosec G304 -- operator-supplied path.
		if err != nil {
			return fmt.Errorf("open export: %w", err)
		}
		importer := ingest.New(store, logger.Named("ingest"))
		_, importErr := importer.Import(ctx, f)
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn("close export file", zap.Error(closeErr))
		}
		if importErr != nil {
			return fmt.Errorf("import export: %w", importErr)
		}
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:      cfg.FetchTimeout(),
		UserAgent:    cfg.Fetch.UserAgent,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
	extractor := extract.New(extract.Config{MinBodyChars: cfg.Extract.MinBodyChars})
	clock := system.New()

	validator := validate.New(fetcher, store, logger.Named("validate"), validate.Config{
		Workers:         cfg.Validation.Workers,
		IncludeArchived: cfg.Validation.IncludeArchived,
		ForceRecheck:    cfg.Validation.ForceRecheck,
		PerDomainRPS:    cfg.Validation.PerDomainRPS,
		PerDomainBurst:  cfg.Validation.PerDomainBurst,
	})
	scraper := extract.NewScraper(fetcher, extractor, store, clock,
		logger.Named("extract"), extract.StageConfig{Workers: cfg.Extract.Workers})

	cdx := archive.NewCDXIndex(fetcher, archive.CDXConfig{
		Endpoint:    cfg.Archive.CDXEndpoint,
		WaybackBase: cfg.Archive.WaybackBase,
		Limit:       cfg.Archive.MaxSnapshots,
	})
	recoverer := archive.NewRecoverer(cdx, fetcher, extractor, store,
		archive.NewGate(cfg.ArchiveSpacing()), clock, logger.Named("recover"),
		archive.Config{Workers: cfg.Archive.Workers, MaxSnapshots: cfg.Archive.MaxSnapshots})

	rules := score.DefaultRules()
	rules.Tiers = score.TierThresholds{
		Critical: cfg.Score.TierCritical,
		High:     cfg.Score.TierHigh,
		Medium:   cfg.Score.TierMedium,
		Low:      cfg.Score.TierLow,
	}
	scorer, err := score.New(rules)
	if err != nil {
		return fmt.Errorf("build scorer: %w", err)
	}

	organizer, err := organize.New(store, blobs, nil, logger.Named("organize"))
	if err != nil {
		return fmt.Errorf("build organizer: %w", err)
	}

	p := pipeline.New(validator, scraper, recoverer, scorer, organizer,
		index.New(), store, blobs, clock, logger.Named("pipeline"))
	tracker := track.New(store, store, clock, logger.Named("track"))

	if cfg.Server.Enabled {
		return serveAndRun(ctx, cfg, p, tracker, logger)
	}

	report, err := p.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("pipeline run finished",
		zap.String("run_id", report.RunID),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return nil
}

// serveAndRun executes the pipeline once and then keeps the HTTP server up
// for status and search queries until interrupted.
func serveAndRun(ctx context.Context, cfg config.Config, p *pipeline.Pipeline, tracker *track.Tracker, logger *zap.Logger) error {
	apiServer := api.NewServer(p, tracker, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	report, runErr := p.Run(ctx)
	if runErr != nil {
		logger.Error("pipeline run failed", zap.Error(runErr))
	} else {
		logger.Info("pipeline run finished", zap.String("run_id", report.RunID))
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}

func newStore(cfg config.Config) (articleStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		s, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				zap.L().Warn("close store", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
