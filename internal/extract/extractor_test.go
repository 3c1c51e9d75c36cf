package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const articleHTML = `<html>
<head><title>Go Concurrency Patterns</title></head>
<body>
<nav>home about contact</nav>
<article>
<h1>Go Concurrency Patterns</h1>
<p>Channels orchestrate communication between goroutines and make it
possible to structure concurrent programs as pipelines of independent
stages that stream values to each other.</p>
</article>
<footer>copyright</footer>
</body></html>`

func TestExtract_HeuristicWinsForStructuredPages(t *testing.T) {
	t.Parallel()

	e := New(Config{MinBodyChars: 50})
	res, err := e.Extract("http://example.test/post", []byte(articleHTML))
	require.NoError(t, err)
	require.Equal(t, "heuristic", res.Method)
	require.Equal(t, "Go Concurrency Patterns", res.Title)
	require.Contains(t, res.Body, "Channels orchestrate communication")
	require.NotContains(t, res.Body, "home about contact")
}

func TestExtract_FallsThroughToSoup(t *testing.T) {
	t.Parallel()

	// No article container and too little structure for readability.
	html := `<html><head><title>Plain</title></head><body><p>` +
		strings.Repeat("word ", 40) + `</p></body></html>`

	e := New(Config{MinBodyChars: 100})
	res, err := e.Extract("http://example.test/plain", []byte(html))
	require.NoError(t, err)
	require.NotEmpty(t, res.Body)
	require.GreaterOrEqual(t, len(res.Body), 100)
}

func TestExtract_ShortContentFailsAllStrategies(t *testing.T) {
	t.Parallel()

	e := New(Config{MinBodyChars: 100})
	_, err := e.Extract("http://example.test/stub", []byte(`<html><body><p>tiny</p></body></html>`))
	require.ErrorIs(t, err, ErrNoContent)
}

func TestExtract_StripsScriptsAndWaybackToolbar(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>Archived</title></head><body>
<div id="wm-ipp-base">WAYBACK TOOLBAR NOISE</div>
<script>alert("tracking")</script>
<article><p>` + strings.Repeat("content ", 30) + `</p></article>
</body></html>`

	e := New(Config{MinBodyChars: 50})
	res, err := e.Extract("http://example.test/archived", []byte(html))
	require.NoError(t, err)
	require.NotContains(t, res.Body, "WAYBACK TOOLBAR NOISE")
	require.NotContains(t, res.Body, "alert")
}

func TestNormalizeText_CollapsesWhitespace(t *testing.T) {
	t.Parallel()

	got := normalizeText("  a   b \n\n\n c\t\td  \n")
	require.Equal(t, "a b\nc d", got)
}

func TestReadingMinutes(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, ReadingMinutes(""))
	require.Equal(t, 1, ReadingMinutes("a few words only"))
	require.Equal(t, 2, ReadingMinutes(strings.Repeat("word ", 450)))
}
