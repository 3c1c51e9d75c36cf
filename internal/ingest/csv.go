// Package ingest loads bookmark exports into the article store.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pocketrescue/internal/rescue"
)

// Report counts what the importer did with the input rows.
type Report struct {
	Imported   int
	Duplicates int
	Existing   int
	BadRows    int
}

// Importer reads a bookmark CSV export and seeds the store with unchecked
// articles.
type Importer struct {
	store  rescue.Store
	logger *zap.Logger
}

// New builds an Importer.
func New(store rescue.Store, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, logger: logger}
}

// Import reads the export and upserts one unchecked article per new URL.
// The first record for a URL wins; later duplicates are dropped. URLs
// already present in the store keep their persisted state, so imports are
// safe to repeat mid-pipeline.
func (i *Importer) Import(ctx context.Context, r io.Reader) (Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Report{}, fmt.Errorf("read csv header: %w", err)
	}
	columns := map[string]int{}
	for idx, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	if _, ok := columns["url"]; !ok {
		return Report{}, errors.New("csv export has no url column")
	}

	var report Report
	seen := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.BadRows++
			continue
		}

		article, ok := i.parseRecord(columns, record)
		if !ok {
			report.BadRows++
			continue
		}
		if seen[article.URL] {
			report.Duplicates++
			continue
		}
		seen[article.URL] = true

		if _, err := i.store.Get(ctx, article.URL); err == nil {
			report.Existing++
			continue
		} else if !errors.Is(err, rescue.ErrNotFound) {
			return report, fmt.Errorf("look up %s: %w", article.URL, err)
		}

		if err := i.store.Upsert(ctx, article); err != nil {
			return report, fmt.Errorf("import %s: %w", article.URL, err)
		}
		report.Imported++
	}

	i.logger.Info("bookmark export imported",
		zap.Int("imported", report.Imported),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("existing", report.Existing),
		zap.Int("bad_rows", report.BadRows),
	)
	return report, nil
}

func (i *Importer) parseRecord(columns map[string]int, record []string) (rescue.Article, bool) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	rawURL := field("url")
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rescue.Article{}, false
	}

	status := strings.ToLower(field("status"))
	if status == "" {
		status = rescue.StatusUnread
	}

	article := rescue.Article{
		URL:       rawURL,
		Title:     field("title"),
		Tags:      SplitTags(field("tags")),
		Status:    status,
		LinkState: rescue.LinkUnchecked,
		Source:    rescue.SourceNone,
	}
	if raw := field("time_added"); raw != "" {
		if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil && epoch > 0 {
			article.Added = time.Unix(epoch, 0).UTC()
		}
	}
	return article, true
}

// SplitTags splits an export tag field on comma, semicolon or pipe.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	var tags []string
	for _, f := range fields {
		if tag := strings.TrimSpace(f); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
