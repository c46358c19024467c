package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Transport tuning constants
const (
	DefaultTimeout        = 64 * time.Second
	MaxIdleConns          = 100
	MaxIdleConnsPerHost   = 100
	MaxConnsPerHost       = 200
	IdleConnTimeout       = 30 * time.Second
	ResponseHeaderTimeout = 30 * time.Second
)

// DefaultUserAgent is sent when the caller does not override it
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options configures a Client
type Options struct {
	// Timeout bounds each request end to end; DefaultTimeout when zero
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing requests for politeness;
	// zero disables throttling
	RequestsPerSecond float64
	// UserAgent and Referer are applied to every request when non-empty
	UserAgent string
	Referer   string
}

// Client performs HTTP GETs for playlists, keys and segments. A single
// Client is shared by all workers of a job; the underlying transport is
// tuned for many concurrent small downloads.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	referer    string
}

// NewClient creates a fetch client with a tuned transport
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: newTransport(),
		},
		limiter:   limiter,
		userAgent: userAgent,
		referer:   opts.Referer,
	}
}

// newTransport initializes a tuned http.Transport with pool and timeout
// parameters sized for concurrent segment downloads
func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = MaxIdleConns
	t.MaxIdleConnsPerHost = MaxIdleConnsPerHost
	t.MaxConnsPerHost = MaxConnsPerHost
	t.IdleConnTimeout = IdleConnTimeout
	t.ResponseHeaderTimeout = ResponseHeaderTimeout
	return t
}

// Get fetches url and returns the response body. It fails with a
// *NetworkError on transport errors and non-2xx statuses, and with an
// *IntegrityError when a declared Content-Length does not match the
// received byte count. The request is aborted when ctx is cancelled.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{URL: url, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}

	if err := verifyLength(url, resp.ContentLength, int64(len(body))); err != nil {
		return nil, err
	}

	return body, nil
}

// verifyLength checks a declared content length against the received byte
// count; declared < 0 means the server did not declare a length
func verifyLength(url string, declared, received int64) error {
	if declared >= 0 && declared != received {
		return &IntegrityError{URL: url, Declared: declared, Received: received}
	}
	return nil
}
