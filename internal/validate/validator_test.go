package validate

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pocketrescue/internal/rescue"
	"pocketrescue/internal/store/memory"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]rescue.FetchResult
}

func newFakeFetcher(results map[string]rescue.FetchResult) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), results: results}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) rescue.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if res, ok := f.results[url]; ok {
		res.URL = url
		return res
	}
	return rescue.FetchResult{URL: url, Kind: rescue.FailureConnection}
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func seed(t *testing.T, store rescue.Store, articles ...rescue.Article) {
	t.Helper()
	for _, a := range articles {
		if a.LinkState == "" {
			a.LinkState = rescue.LinkUnchecked
		}
		if a.Source == "" {
			a.Source = rescue.SourceNone
		}
		require.NoError(t, store.Upsert(context.Background(), a))
	}
}

func TestValidator_PartitionsByStatusCode(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(t, store,
		rescue.Article{URL: "http://x.test/a", Status: rescue.StatusUnread},
		rescue.Article{URL: "http://dead.test/b", Status: rescue.StatusUnread},
		rescue.Article{URL: "http://gone.test/c", Status: rescue.StatusUnread},
	)
	fetcher := newFakeFetcher(map[string]rescue.FetchResult{
		"http://x.test/a":    {StatusCode: http.StatusOK},
		"http://dead.test/b": {StatusCode: http.StatusNotFound, Kind: rescue.FailureHTTP},
		"http://gone.test/c": {Kind: rescue.FailureTimeout},
	})

	v := New(fetcher, store, nil, Config{Workers: 4})
	partition, summary, err := v.Run(context.Background())
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"http://x.test/a"}, partition.Valid)
	require.ElementsMatch(t, []string{"http://dead.test/b", "http://gone.test/c"}, partition.Invalid)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Failures, 2)

	a, err := store.Get(context.Background(), "http://x.test/a")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkValid, a.LinkState)

	b, err := store.Get(context.Background(), "http://dead.test/b")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkInvalid, b.LinkState)
}

func TestValidator_SkipsArchivedUnlessOverridden(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(t, store, rescue.Article{URL: "http://a.test/1", Status: rescue.StatusArchived})
	fetcher := newFakeFetcher(map[string]rescue.FetchResult{
		"http://a.test/1": {StatusCode: http.StatusOK},
	})

	v := New(fetcher, store, nil, Config{Workers: 2})
	partition, summary, err := v.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, fetcher.callCount("http://a.test/1"))
	require.Equal(t, 1, summary.Skipped)
	require.ElementsMatch(t, []string{"http://a.test/1"}, partition.Skipped)

	v = New(fetcher, store, nil, Config{Workers: 2, IncludeArchived: true})
	partition, _, err = v.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callCount("http://a.test/1"))
	require.ElementsMatch(t, []string{"http://a.test/1"}, partition.Valid)
}

func TestValidator_RerunIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(t, store, rescue.Article{URL: "http://x.test/a", Status: rescue.StatusUnread})
	fetcher := newFakeFetcher(map[string]rescue.FetchResult{
		"http://x.test/a": {StatusCode: http.StatusOK},
	})

	v := New(fetcher, store, nil, Config{Workers: 2})
	_, _, err := v.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callCount("http://x.test/a"))

	// Second run without force: no network work, state unchanged, and the
	// already-valid article still lands in the valid partition.
	partition, summary, err := v.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callCount("http://x.test/a"))
	require.Equal(t, 1, summary.Skipped)
	require.ElementsMatch(t, []string{"http://x.test/a"}, partition.Valid)

	a, err := store.Get(context.Background(), "http://x.test/a")
	require.NoError(t, err)
	require.Equal(t, rescue.LinkValid, a.LinkState)
}

// cancelingFetcher aborts the run from inside the probe, the way a SIGINT
// lands while a request is on the wire.
type cancelingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancelingFetcher) Fetch(ctx context.Context, url string) rescue.FetchResult {
	f.cancel()
	<-ctx.Done()
	return rescue.FetchResult{URL: url, Kind: rescue.FailureConnection}
}

func TestValidator_InterruptLeavesLinkStateUnchecked(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(t, store, rescue.Article{URL: "http://x.test/a", Status: rescue.StatusUnread})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := New(&cancelingFetcher{cancel: cancel}, store, nil, Config{Workers: 1})
	partition, summary, err := v.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The aborted probe proved nothing about the link, so it must not be
	// partitioned as invalid or counted either way.
	require.Empty(t, partition.Invalid)
	require.Zero(t, summary.Failed)
	require.Zero(t, summary.Succeeded)

	a, getErr := store.Get(context.Background(), "http://x.test/a")
	require.NoError(t, getErr)
	require.Equal(t, rescue.LinkUnchecked, a.LinkState)

	// A clean rerun probes the URL again and settles the real state.
	fetcher := newFakeFetcher(map[string]rescue.FetchResult{
		"http://x.test/a": {StatusCode: http.StatusOK},
	})
	v = New(fetcher, store, nil, Config{Workers: 1})
	partition, _, err = v.Run(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"http://x.test/a"}, partition.Valid)
}

func TestValidator_ForceRecheckRefetches(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(t, store, rescue.Article{URL: "http://x.test/a", Status: rescue.StatusUnread})
	fetcher := newFakeFetcher(map[string]rescue.FetchResult{
		"http://x.test/a": {StatusCode: http.StatusOK},
	})

	v := New(fetcher, store, nil, Config{Workers: 2, ForceRecheck: true})
	_, _, err := v.Run(context.Background())
	require.NoError(t, err)
	_, _, err = v.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.callCount("http://x.test/a"))
}
