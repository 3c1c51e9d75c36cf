package archive

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pocketrescue/internal/extract"
	"pocketrescue/internal/rescue"
	"pocketrescue/internal/store/memory"
)

type fakeIndex struct {
	snapshots map[string][]rescue.Snapshot
	queries   int
}

func (f *fakeIndex) Snapshots(_ context.Context, url string) ([]rescue.Snapshot, error) {
	f.queries++
	return f.snapshots[url], nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

var snapshotHTML = []byte(`<html><head><title>Recovered Page</title></head><body>
<div id="wm-ipp-base">toolbar</div>
<article><p>` + strings.Repeat("archived content ", 20) + `</p></article>
</body></html>`)

func TestRecoverer_RecoversFromSnapshot(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Upsert(context.Background(), rescue.Article{
		URL:       "http://dead.test/b",
		Title:     "old title",
		LinkState: rescue.LinkInvalid,
		Source:    rescue.SourceNone,
	}))

	snapTime := time.Date(2019, 6, 14, 12, 30, 0, 0, time.UTC)
	index := &fakeIndex{snapshots: map[string][]rescue.Snapshot{
		"http://dead.test/b": {{
			Timestamp:  snapTime,
			Original:   "http://dead.test/b",
			ArchiveURL: "http://wb.test/web/20190614123000/http://dead.test/b",
		}},
	}}
	fetcher := &stubFetcher{results: map[string]rescue.FetchResult{
		"http://wb.test/web/": {StatusCode: http.StatusOK, Body: snapshotHTML},
	}}

	r := NewRecoverer(index, fetcher, extract.New(extract.Config{MinBodyChars: 50}), store,
		NewGate(0), &fakeClock{now: time.Unix(5000, 0)}, nil, Config{Workers: 2})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)

	a, err := store.Get(context.Background(), "http://dead.test/b")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkRecovered, a.LinkState)
	require.Equal(t, rescue.SourceArchive, a.Source)
	require.Equal(t, "http://wb.test/web/20190614123000/http://dead.test/b", a.ArchiveURL)
	require.Equal(t, "Recovered Page", a.Title)
	require.True(t, a.HasBody())
	require.NotContains(t, a.Body, "toolbar")
}

func TestRecoverer_NoSnapshotLeavesArticleInvalid(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Upsert(context.Background(), rescue.Article{
		URL:       "http://nothing.test/x",
		LinkState: rescue.LinkInvalid,
	}))
	index := &fakeIndex{snapshots: map[string][]rescue.Snapshot{}}
	fetcher := &stubFetcher{}

	r := NewRecoverer(index, fetcher, extract.New(extract.Config{}), store,
		NewGate(0), &fakeClock{}, nil, Config{Workers: 1})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, "archive-miss", summary.Failures[0].Kind)

	a, err := store.Get(context.Background(), "http://nothing.test/x")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkInvalid, a.LinkState)
	require.False(t, a.HasBody())
}

func TestRecoverer_WalksToOlderSnapshotOnExtractionFailure(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Upsert(context.Background(), rescue.Article{
		URL:       "http://dead.test/b",
		LinkState: rescue.LinkInvalid,
	}))
	index := &fakeIndex{snapshots: map[string][]rescue.Snapshot{
		"http://dead.test/b": {
			{Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), ArchiveURL: "http://wb.test/new/page"},
			{Timestamp: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), ArchiveURL: "http://wb.test/old/page"},
		},
	}}
	fetcher := &stubFetcher{results: map[string]rescue.FetchResult{
		"http://wb.test/new/": {StatusCode: http.StatusOK, Body: []byte("<html><body>stub</body></html>")},
		"http://wb.test/old/": {StatusCode: http.StatusOK, Body: snapshotHTML},
	}}

	r := NewRecoverer(index, fetcher, extract.New(extract.Config{MinBodyChars: 50}), store,
		NewGate(0), &fakeClock{}, nil, Config{Workers: 1})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)

	a, err := store.Get(context.Background(), "http://dead.test/b")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkRecovered, a.LinkState)
	require.Equal(t, "http://wb.test/old/page", a.ArchiveURL)
}

func TestRecoverer_RerunSkipsRecoveredArticles(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Upsert(context.Background(), rescue.Article{
		URL:       "http://dead.test/b",
		LinkState: rescue.LinkInvalid,
	}))
	index := &fakeIndex{snapshots: map[string][]rescue.Snapshot{
		"http://dead.test/b": {{
			Timestamp:  time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
			ArchiveURL: "http://wb.test/web/x",
		}},
	}}
	fetcher := &stubFetcher{results: map[string]rescue.FetchResult{
		"http://wb.test/web/": {StatusCode: http.StatusOK, Body: snapshotHTML},
	}}

	r := NewRecoverer(index, fetcher, extract.New(extract.Config{MinBodyChars: 50}), store,
		NewGate(0), &fakeClock{}, nil, Config{Workers: 1})
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, index.queries)

	// The article is now recovered; a second pass must not re-query.
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, index.queries)
	require.Zero(t, summary.Processed())
}
