// Package fetch implements the single-request HTTP probe used by every
// network-bound pipeline stage.
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"pocketrescue/internal/metrics"
	"pocketrescue/internal/rescue"
)

const defaultUserAgent = "pocket-rescue/0.1"

var errRedirectLoop = errors.New("redirect limit exceeded")

// Config controls probe behavior. Retry policy deliberately lives with
// callers; the validator fast-fails while the recoverer paces slowly.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxRedirects int
	MaxBodyBytes int64
}

// Client fetches one URL at a time and reports the outcome as data.
type Client struct {
	cfg  Config
	httc *http.Client
}

// New builds a Client with a pooled transport.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		cfg: cfg,
		httc: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return errRedirectLoop
				}
				return nil
			},
		},
	}
}

// Fetch executes a single GET with the configured timeout. Network and HTTP
// failures never surface as Go errors; they are classified on the result.
func (c *Client) Fetch(ctx context.Context, url string) rescue.FetchResult {
	start := time.Now()
	result := rescue.FetchResult{URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Kind = rescue.FailureConnection
		result.Elapsed = time.Since(start)
		metrics.ObserveFetchFailure(string(result.Kind))
		return result
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httc.Do(req)
	if err != nil {
		result.Kind = classify(err)
		result.Elapsed = time.Since(start)
		metrics.ObserveFetchFailure(string(result.Kind))
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		result.Kind = rescue.FailureHTTP
		result.Elapsed = time.Since(start)
		metrics.ObserveFetchFailure(string(result.Kind))
		return result
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		result.Kind = classify(err)
		result.StatusCode = 0
		result.Elapsed = time.Since(start)
		metrics.ObserveFetchFailure(string(result.Kind))
		return result
	}
	result.Body = body
	result.Elapsed = time.Since(start)
	return result
}

func classify(err error) rescue.FailureKind {
	if errors.Is(err, errRedirectLoop) {
		return rescue.FailureRedirectLoop
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return rescue.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return rescue.FailureTimeout
	}
	return rescue.FailureConnection
}
