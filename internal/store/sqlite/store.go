// Package sqlite persists articles in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"pocketrescue/internal/rescue"
)

const (
	articlesTable = "articles"
	progressTable = "reading_progress"
)

var articleColumns = []string{
	"url", "title", "tags", "status", "time_added", "reading_time",
	"link_state", "body", "source", "score", "tier", "category",
	"archive_url", "scrape_method", "time_scraped",
}

var progressColumns = []string{
	"url", "reading_status", "percent", "rating", "notes",
	"time_started", "time_completed",
}

// Store is a SQLite-backed article store. Safe for concurrent use; the
// driver serializes writes.
type Store struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// New opens or creates the database at the given DSN and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func New(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			url TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'unread',
			time_added TEXT NOT NULL DEFAULT '',
			reading_time INTEGER NOT NULL DEFAULT 0,
			link_state TEXT NOT NULL DEFAULT 'unchecked',
			body TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'none',
			score INTEGER NOT NULL DEFAULT 0,
			tier TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			archive_url TEXT NOT NULL DEFAULT '',
			scrape_method TEXT NOT NULL DEFAULT '',
			time_scraped TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_link_state ON articles(link_state)`,
		`CREATE TABLE IF NOT EXISTS reading_progress (
			url TEXT PRIMARY KEY,
			reading_status TEXT NOT NULL DEFAULT 'unread',
			percent INTEGER NOT NULL DEFAULT 0,
			rating INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			time_started TEXT,
			time_completed TEXT
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Get fetches an article by URL.
func (s *Store) Get(ctx context.Context, url string) (rescue.Article, error) {
	query, args, err := s.builder.
		Select(articleColumns...).
		From(articlesTable).
		Where(sq.Eq{"url": url}).
		ToSql()
	if err != nil {
		return rescue.Article{}, fmt.Errorf("building select: %w", err)
	}

	article, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return rescue.Article{}, rescue.ErrNotFound
	}
	if err != nil {
		return rescue.Article{}, fmt.Errorf("fetching article: %w", err)
	}
	return article, nil
}

// Upsert inserts the article or replaces the existing row for its URL.
func (s *Store) Upsert(ctx context.Context, article rescue.Article) error {
	var scrapedAt any
	if article.ScrapedAt != nil {
		scrapedAt = article.ScrapedAt.UTC().Format(time.RFC3339Nano)
	}
	var added string
	if !article.Added.IsZero() {
		added = article.Added.UTC().Format(time.RFC3339Nano)
	}

	query, args, err := s.builder.
		Insert(articlesTable).
		Columns(articleColumns...).
		Values(
			article.URL, article.Title, strings.Join(article.Tags, ","),
			article.Status, added, article.ReadingTime,
			string(article.LinkState), article.Body, string(article.Source),
			article.Score, string(article.Tier), article.Category,
			article.ArchiveURL, article.ScrapeMethod, scrapedAt,
		).
		Suffix(`ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			tags = excluded.tags,
			status = excluded.status,
			time_added = excluded.time_added,
			reading_time = excluded.reading_time,
			link_state = excluded.link_state,
			body = excluded.body,
			source = excluded.source,
			score = excluded.score,
			tier = excluded.tier,
			category = excluded.category,
			archive_url = excluded.archive_url,
			scrape_method = excluded.scrape_method,
			time_scraped = excluded.time_scraped`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting article: %w", err)
	}
	return nil
}

// List returns every article ordered by URL.
func (s *Store) List(ctx context.Context) ([]rescue.Article, error) {
	return s.list(ctx, nil)
}

// ListByState returns articles in any of the given link states.
func (s *Store) ListByState(ctx context.Context, states ...rescue.LinkState) ([]rescue.Article, error) {
	if len(states) == 0 {
		return nil, nil
	}
	values := make([]string, len(states))
	for i, state := range states {
		values[i] = string(state)
	}
	return s.list(ctx, sq.Eq{"link_state": values})
}

func (s *Store) list(ctx context.Context, where any) ([]rescue.Article, error) {
	builder := s.builder.
		Select(articleColumns...).
		From(articlesTable).
		OrderBy("url")
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	defer rows.Close()

	var articles []rescue.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating articles: %w", err)
	}
	return articles, nil
}

// GetProgress fetches the reading progress for a URL.
func (s *Store) GetProgress(ctx context.Context, url string) (rescue.Progress, error) {
	query, args, err := s.builder.
		Select(progressColumns...).
		From(progressTable).
		Where(sq.Eq{"url": url}).
		ToSql()
	if err != nil {
		return rescue.Progress{}, fmt.Errorf("building select: %w", err)
	}

	progress, err := scanProgress(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return rescue.Progress{}, rescue.ErrNotFound
	}
	if err != nil {
		return rescue.Progress{}, fmt.Errorf("fetching progress: %w", err)
	}
	return progress, nil
}

// UpsertProgress inserts the progress record or replaces the existing row.
func (s *Store) UpsertProgress(ctx context.Context, progress rescue.Progress) error {
	query, args, err := s.builder.
		Insert(progressTable).
		Columns(progressColumns...).
		Values(
			progress.URL, string(progress.Status), progress.Percent,
			progress.Rating, progress.Notes,
			nullableTime(progress.StartedAt), nullableTime(progress.CompletedAt),
		).
		Suffix(`ON CONFLICT(url) DO UPDATE SET
			reading_status = excluded.reading_status,
			percent = excluded.percent,
			rating = excluded.rating,
			notes = excluded.notes,
			time_started = excluded.time_started,
			time_completed = excluded.time_completed`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting progress: %w", err)
	}
	return nil
}

// ListProgress returns every progress record ordered by URL.
func (s *Store) ListProgress(ctx context.Context) ([]rescue.Progress, error) {
	query, args, err := s.builder.
		Select(progressColumns...).
		From(progressTable).
		OrderBy("url").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	defer rows.Close()

	var out []rescue.Progress
	for rows.Next() {
		progress, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		out = append(out, progress)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress: %w", err)
	}
	return out, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (rescue.Article, error) {
	var (
		article             rescue.Article
		tags, added         string
		state, source, tier string
		scrapedAt           sql.NullString
	)
	err := row.Scan(
		&article.URL, &article.Title, &tags, &article.Status, &added,
		&article.ReadingTime, &state, &article.Body, &source,
		&article.Score, &tier, &article.Category, &article.ArchiveURL,
		&article.ScrapeMethod, &scrapedAt,
	)
	if err != nil {
		return rescue.Article{}, err
	}

	if tags != "" {
		article.Tags = strings.Split(tags, ",")
	}
	article.LinkState = rescue.LinkState(state)
	article.Source = rescue.ContentSource(source)
	article.Tier = rescue.Tier(tier)
	if added != "" {
		if t, err := time.Parse(time.RFC3339Nano, added); err == nil {
			article.Added = t
		}
	}
	if scrapedAt.Valid && scrapedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, scrapedAt.String); err == nil {
			article.ScrapedAt = &t
		}
	}
	return article, nil
}

func scanProgress(row scanner) (rescue.Progress, error) {
	var (
		progress           rescue.Progress
		status             string
		started, completed sql.NullString
	)
	err := row.Scan(
		&progress.URL, &status, &progress.Percent, &progress.Rating,
		&progress.Notes, &started, &completed,
	)
	if err != nil {
		return rescue.Progress{}, err
	}

	progress.Status = rescue.ReadingStatus(status)
	if started.Valid && started.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, started.String); err == nil {
			progress.StartedAt = &t
		}
	}
	if completed.Valid && completed.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
			progress.CompletedAt = &t
		}
	}
	return progress, nil
}
