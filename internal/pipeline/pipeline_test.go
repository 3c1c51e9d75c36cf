package pipeline

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pocketrescue/internal/archive"
	"pocketrescue/internal/extract"
	"pocketrescue/internal/index"
	"pocketrescue/internal/organize"
	"pocketrescue/internal/rescue"
	"pocketrescue/internal/score"
	"pocketrescue/internal/store/memory"
	"pocketrescue/internal/validate"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]rescue.FetchResult
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) rescue.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for prefix, res := range f.results {
		if strings.HasPrefix(url, prefix) {
			res.URL = url
			return res
		}
	}
	return rescue.FetchResult{URL: url, StatusCode: http.StatusNotFound, Kind: rescue.FailureHTTP}
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSnapshotIndex struct {
	mu        sync.Mutex
	snapshots map[string][]rescue.Snapshot
	queries   int
}

func (f *fakeSnapshotIndex) Snapshots(_ context.Context, url string) ([]rescue.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return f.snapshots[url], nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
	return "file:///" + path, nil
}

func (f *fakeBlobStore) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.objects {
		out = append(out, p)
	}
	return out
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

var liveHTML = []byte(`<html><head><title>Python Guide</title></head><body>
<article><p>` + strings.Repeat("practical python content ", 30) + `</p></article>
</body></html>`)

var snapshotHTML = []byte(`<html><head><title>Recovered Essay</title></head><body>
<div id="wm-ipp-base">toolbar</div>
<article><p>` + strings.Repeat("archived essay text ", 30) + `</p></article>
</body></html>`)

func newTestPipeline(t *testing.T, store rescue.Store, fetcher *fakeFetcher, snapshots *fakeSnapshotIndex, blobs *fakeBlobStore) *Pipeline {
	t.Helper()

	extractor := extract.New(extract.Config{})
	clock := &fakeClock{now: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)}

	validator := validate.New(fetcher, store, nil, validate.Config{Workers: 4})
	scraper := extract.NewScraper(fetcher, extractor, store, clock, nil, extract.StageConfig{Workers: 4})
	recoverer := archive.NewRecoverer(snapshots, fetcher, extractor, store,
		archive.NewGate(0), clock, nil, archive.Config{Workers: 2})

	scorer, err := score.New(score.DefaultRules())
	require.NoError(t, err)
	organizer, err := organize.New(store, blobs, nil, nil)
	require.NoError(t, err)

	return New(validator, scraper, recoverer, scorer, organizer, index.New(),
		store, blobs, clock, nil)
}

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	added := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, rescue.Article{
		URL: "http://live.test/python", Title: "Bookmarked Title",
		Tags: []string{"python"}, Status: rescue.StatusUnread, Added: added,
		LinkState: rescue.LinkUnchecked, Source: rescue.SourceNone,
	}))
	require.NoError(t, store.Upsert(ctx, rescue.Article{
		URL: "http://dead.test/essay", Title: "Lost Essay",
		Tags: []string{"_reading"}, Status: rescue.StatusUnread, Added: added,
		LinkState: rescue.LinkUnchecked, Source: rescue.SourceNone,
	}))

	fetcher := &fakeFetcher{results: map[string]rescue.FetchResult{
		"http://live.test/": {StatusCode: http.StatusOK, Body: liveHTML},
		"http://wb.test/":   {StatusCode: http.StatusOK, Body: snapshotHTML},
	}}
	snapshots := &fakeSnapshotIndex{snapshots: map[string][]rescue.Snapshot{
		"http://dead.test/essay": {{
			Timestamp:  time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC),
			Original:   "http://dead.test/essay",
			ArchiveURL: "http://wb.test/web/20220301000000/http://dead.test/essay",
		}},
	}}
	blobs := newFakeBlobStore()

	p := newTestPipeline(t, store, fetcher, snapshots, blobs)
	report, err := p.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Stages, 6)

	live, err := store.Get(ctx, "http://live.test/python")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkValid, live.LinkState)
	require.Equal(t, rescue.SourceLive, live.Source)
	require.Equal(t, "Python Guide", live.Title)
	require.True(t, live.HasBody())
	require.Equal(t, "programming", live.Category)
	require.Greater(t, live.Score, 0)

	dead, err := store.Get(ctx, "http://dead.test/essay")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkRecovered, dead.LinkState)
	require.Equal(t, rescue.SourceArchive, dead.Source)
	require.Equal(t, "http://wb.test/web/20220301000000/http://dead.test/essay", dead.ArchiveURL)
	require.Equal(t, "Recovered Essay", dead.Title)
	require.GreaterOrEqual(t, dead.Score, 50)
	require.Equal(t, rescue.TierHigh, dead.Tier)
	require.Equal(t, "reading", dead.Category)

	// The run leaves durable artifacts: two documents, the search index
	// and the run report.
	paths := blobs.paths()
	require.Contains(t, paths, "search_index.json")
	require.Contains(t, paths, "runs/"+report.RunID+".json")

	results := p.Index().Search("python", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "http://live.test/python", results[0].URL)
}

func TestPipeline_RerunDoesNoNetworkWork(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, rescue.Article{
		URL: "http://live.test/python", Tags: []string{"python"},
		Status: rescue.StatusUnread, LinkState: rescue.LinkUnchecked,
	}))
	require.NoError(t, store.Upsert(ctx, rescue.Article{
		URL: "http://dead.test/essay", Tags: []string{"_reading"},
		Status: rescue.StatusUnread, LinkState: rescue.LinkUnchecked,
	}))

	fetcher := &fakeFetcher{results: map[string]rescue.FetchResult{
		"http://live.test/": {StatusCode: http.StatusOK, Body: liveHTML},
		"http://wb.test/":   {StatusCode: http.StatusOK, Body: snapshotHTML},
	}}
	snapshots := &fakeSnapshotIndex{snapshots: map[string][]rescue.Snapshot{
		"http://dead.test/essay": {{
			Timestamp:  time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC),
			ArchiveURL: "http://wb.test/web/20220301000000/http://dead.test/essay",
		}},
	}}
	blobs := newFakeBlobStore()

	p := newTestPipeline(t, store, fetcher, snapshots, blobs)
	_, err := p.Run(ctx)
	require.NoError(t, err)

	callsAfterFirst := fetcher.callCount()
	queriesAfterFirst := snapshots.queries

	_, err = p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, callsAfterFirst, fetcher.callCount())
	require.Equal(t, queriesAfterFirst, snapshots.queries)
}

func TestPipeline_CanceledContextStopsBetweenStages(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Upsert(context.Background(), rescue.Article{
		URL: "http://live.test/python", LinkState: rescue.LinkUnchecked,
	}))

	fetcher := &fakeFetcher{results: map[string]rescue.FetchResult{
		"http://live.test/": {StatusCode: http.StatusOK, Body: liveHTML},
	}}
	p := newTestPipeline(t, store, fetcher, &fakeSnapshotIndex{}, newFakeBlobStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx)
	require.Error(t, err)
}
