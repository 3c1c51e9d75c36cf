package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"pocketrescue/internal/rescue"
)

const snapshotTimeLayout = "20060102150405"

// CDXConfig points the snapshot index at an archive CDX endpoint.
type CDXConfig struct {
	Endpoint    string
	WaybackBase string
	Limit       int
}

// CDXIndex queries a Wayback-style CDX API for snapshots of a URL.
type CDXIndex struct {
	fetcher rescue.Fetcher
	cfg     CDXConfig
}

// NewCDXIndex constructs a CDXIndex on top of the shared fetcher. Callers
// are responsible for pacing requests through the gate.
func NewCDXIndex(fetcher rescue.Fetcher, cfg CDXConfig) *CDXIndex {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://web.archive.org/cdx/search/cdx"
	}
	if cfg.WaybackBase == "" {
		cfg.WaybackBase = "http://web.archive.org/web"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &CDXIndex{fetcher: fetcher, cfg: cfg}
}

// Snapshots returns successful captures of target, newest first. An empty
// slice with a nil error means the archive has no snapshot.
func (c *CDXIndex) Snapshots(ctx context.Context, target string) ([]rescue.Snapshot, error) {
	params := url.Values{}
	params.Set("url", target)
	params.Set("output", "json")
	params.Set("limit", strconv.Itoa(c.cfg.Limit))
	params.Set("filter", "statuscode:200")
	params.Set("sort", "timestamp")
	params.Set("order", "desc")

	res := c.fetcher.Fetch(ctx, c.cfg.Endpoint+"?"+params.Encode())
	if !res.OK() {
		return nil, fmt.Errorf("cdx query for %s: %s", target, res.FailureLabel())
	}

	// CDX answers with a JSON array of rows, first row being the header.
	var rows [][]string
	if err := json.Unmarshal(res.Body, &rows); err != nil {
		return nil, fmt.Errorf("decode cdx response: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	snapshots := make([]rescue.Snapshot, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 3 {
			continue
		}
		ts, err := time.Parse(snapshotTimeLayout, row[1])
		if err != nil {
			continue
		}
		snapshots = append(snapshots, rescue.Snapshot{
			Timestamp:  ts,
			Original:   row[2],
			ArchiveURL: fmt.Sprintf("%s/%s/%s", c.cfg.WaybackBase, row[1], row[2]),
		})
	}
	return snapshots, nil
}
