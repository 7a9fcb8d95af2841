package modules

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxBodyBytes = 2 << 20

// Page is a fetched HTTP resource with its body truncated to the fetcher limit.
type Page struct {
	URL       string
	Status    int
	Header    http.Header
	Body      []byte
	Truncated bool
}

// ErrFetch is a transport failure or a server error. Client errors are not
// failures: the page is returned with its status.
type ErrFetch struct {
	error
}

func NewErrFetch(url string, err error) *ErrFetch {
	return &ErrFetch{fmt.Errorf("fetch %s: %w", url, err)}
}

func (e *ErrFetch) Unwrap() error {
	return e.error
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// rateLimitTransport makes every module share one token bucket.
type rateLimitTransport struct {
	inner   http.RoundTripper
	limiter *rate.Limiter
}

func (rt *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return rt.inner.RoundTrip(req)
}

// NewFetcher returns a fetcher limited to requestsPerSecond across all its
// callers. A non positive rate disables the limit.
func NewFetcher(userAgent string, maxBytes int64, requestsPerSecond float64) *Fetcher {
	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if requestsPerSecond > 0 {
		burst := max(int(requestsPerSecond), 1)
		transport = &rateLimitTransport{inner: transport, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
	}
	return NewFetcherWithClient(&http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, userAgent, maxBytes)
}

func NewFetcherWithClient(client *http.Client, userAgent string, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return &Fetcher{client: client, userAgent: userAgent, maxBytes: maxBytes}
}

func (f *Fetcher) Get(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewErrFetch(url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, NewErrFetch(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, NewErrFetch(url, fmt.Errorf("server responded %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, NewErrFetch(url, err)
	}
	page := &Page{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}
	if int64(len(body)) > f.maxBytes {
		page.Body = body[:f.maxBytes]
		page.Truncated = true
	}
	return page, nil
}
