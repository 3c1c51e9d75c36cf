// Package extract turns fetched HTML into article title and body text using
// an ordered chain of extraction strategies.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// ErrNoContent is returned when every strategy produced empty or too-short
// body text.
var ErrNoContent = errors.New("no extraction strategy produced content")

// Selectors tried by the structured-article heuristic, most specific first.
var contentSelectors = []string{
	"article", "main", ".content", "#content",
	".post", ".article", ".story", ".entry-content",
}

var spaceRun = regexp.MustCompile(`[ \t]+`)

// Config tunes the extraction chain.
type Config struct {
	// MinBodyChars is the minimum body length a strategy must produce to be
	// accepted before falling through to the next one.
	MinBodyChars int
}

// Result is the output of a successful extraction.
type Result struct {
	Title  string
	Body   string
	Method string
}

// Extractor runs the strategy chain over fetched HTML.
type Extractor struct {
	cfg Config
}

// New constructs an Extractor.
func New(cfg Config) *Extractor {
	if cfg.MinBodyChars <= 0 {
		cfg.MinBodyChars = 100
	}
	return &Extractor{cfg: cfg}
}

type strategy struct {
	name string
	run  func(pageURL string, html []byte) (title, body string, err error)
}

// Extract tries each strategy in fixed priority order and returns the first
// result whose body clears the minimum length. Quality over speed: the
// structured heuristic goes first, tag soup is the last resort.
func (e *Extractor) Extract(pageURL string, html []byte) (Result, error) {
	strategies := []strategy{
		{name: "heuristic", run: e.heuristic},
		{name: "readability", run: e.readability},
		{name: "soup", run: e.soup},
	}
	for _, s := range strategies {
		title, body, err := s.run(pageURL, html)
		if err != nil {
			continue
		}
		if len(strings.TrimSpace(body)) >= e.cfg.MinBodyChars {
			return Result{Title: strings.TrimSpace(title), Body: body, Method: s.name}, nil
		}
	}
	return Result{}, ErrNoContent
}

// heuristic looks for well-known article containers and returns their text.
func (e *Extractor) heuristic(_ string, html []byte) (string, string, error) {
	doc, err := newCleanDocument(html)
	if err != nil {
		return "", "", err
	}
	title := doc.Find("title").First().Text()
	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if body := normalizeText(node.Text()); body != "" {
			return title, body, nil
		}
	}
	return "", "", fmt.Errorf("no content container matched")
}

// readability delegates to the go-readability port of the classic algorithm.
func (e *Extractor) readability(pageURL string, html []byte) (string, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(html), parsed)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}
	return article.Title, normalizeText(article.TextContent), nil
}

// soup takes the text of the whole document body, scripts stripped.
func (e *Extractor) soup(_ string, html []byte) (string, string, error) {
	doc, err := newCleanDocument(html)
	if err != nil {
		return "", "", err
	}
	title := doc.Find("title").First().Text()
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return title, normalizeText(doc.Text()), nil
	}
	return title, normalizeText(body.Text()), nil
}

// newCleanDocument parses HTML and strips script/style noise plus the
// Wayback Machine toolbar, so the same chain serves archived snapshots.
func newCleanDocument(html []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, iframe").Remove()
	doc.Find("#wm-ipp-base, #wm-ipp, #donato").Remove()
	return doc, nil
}

// normalizeText collapses runs of whitespace, keeping one line per block.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// ReadingMinutes estimates reading time at 200 words per minute, minimum 1.
func ReadingMinutes(body string) int {
	words := len(strings.Fields(body))
	if words == 0 {
		return 0
	}
	minutes := words / 200
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
