package archive

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pocketrescue/internal/rescue"
)

type stubFetcher struct {
	mu      sync.Mutex
	results map[string]rescue.FetchResult
	calls   []string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) rescue.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	for prefix, res := range f.results {
		if len(url) >= len(prefix) && url[:len(prefix)] == prefix {
			res.URL = url
			return res
		}
	}
	return rescue.FetchResult{URL: url, Kind: rescue.FailureConnection}
}

const cdxResponse = `[
["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
["test,dead)/b","20190614123000","http://dead.test/b","text/html","200","ABC","1234"],
["test,dead)/b","20170101000000","http://dead.test/b","text/html","200","DEF","999"]
]`

func TestCDXIndex_ParsesSnapshots(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{results: map[string]rescue.FetchResult{
		"http://cdx.test/search": {StatusCode: http.StatusOK, Body: []byte(cdxResponse)},
	}}
	index := NewCDXIndex(fetcher, CDXConfig{
		Endpoint:    "http://cdx.test/search",
		WaybackBase: "http://wb.test/web",
	})

	snapshots, err := index.Snapshots(context.Background(), "http://dead.test/b")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Equal(t, "http://wb.test/web/20190614123000/http://dead.test/b", snapshots[0].ArchiveURL)
	require.Equal(t, time.Date(2019, 6, 14, 12, 30, 0, 0, time.UTC), snapshots[0].Timestamp)
	require.Equal(t, "http://dead.test/b", snapshots[0].Original)
}

func TestCDXIndex_HeaderOnlyMeansNoSnapshot(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{results: map[string]rescue.FetchResult{
		"http://cdx.test/search": {StatusCode: http.StatusOK, Body: []byte(`[["urlkey","timestamp","original"]]`)},
	}}
	index := NewCDXIndex(fetcher, CDXConfig{Endpoint: "http://cdx.test/search"})

	snapshots, err := index.Snapshots(context.Background(), "http://nothing.test/x")
	require.NoError(t, err)
	require.Empty(t, snapshots)
}

func TestCDXIndex_ServiceFailureIsAnError(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{results: map[string]rescue.FetchResult{
		"http://cdx.test/search": {Kind: rescue.FailureTimeout},
	}}
	index := NewCDXIndex(fetcher, CDXConfig{Endpoint: "http://cdx.test/search"})

	_, err := index.Snapshots(context.Background(), "http://dead.test/b")
	require.Error(t, err)
}
