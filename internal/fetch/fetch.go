// Package fetch retrieves remote HTML for URL-sourced PDF requests.
package fetch

import (
	"context"
	"fmt"
	neturl "net/url"
	"time"

	"github.com/valyala/fasthttp"

	"pdfapi/internal/domain"
)

// Fetcher issues GET requests with a per-request deadline and a bounded
// number of redirects. Safe for concurrent use.
type Fetcher struct {
	client       *fasthttp.Client
	timeout      time.Duration
	maxRedirects int
}

// New returns a Fetcher. maxBytes caps the response body; zero means unlimited.
func New(timeout time.Duration, maxRedirects, maxBytes int) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		client: &fasthttp.Client{
			Name:                "pdfapi-fetcher",
			MaxResponseBodySize: maxBytes,
		},
		timeout:      timeout,
		maxRedirects: maxRedirects,
	}
}

// Fetch returns the body of url as text. Network failures, non-2xx statuses,
// redirect loops and timeouts are reported as domain.ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	parsed, err := neturl.ParseRequestURI(url)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid url %q: must be HTTP or HTTPS", domain.ErrFetch, url)
	}

	deadline := time.Now().Add(f.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)

	for hops := 0; ; hops++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrFetch, err)
		}
		if err := f.client.DoDeadline(req, resp, deadline); err != nil {
			return "", fmt.Errorf("%w: GET %s: %w", domain.ErrFetch, req.URI().String(), err)
		}

		status := resp.StatusCode()
		if !fasthttp.StatusCodeIsRedirect(status) {
			break
		}
		if hops >= f.maxRedirects {
			return "", fmt.Errorf("%w: GET %s: too many redirects", domain.ErrFetch, url)
		}
		location := resp.Header.Peek(fasthttp.HeaderLocation)
		if len(location) == 0 {
			return "", fmt.Errorf("%w: GET %s: redirect without location", domain.ErrFetch, req.URI().String())
		}
		req.URI().UpdateBytes(location)
		resp.Reset()
	}

	if status := resp.StatusCode(); status < 200 || status > 299 {
		return "", fmt.Errorf("%w: GET %s: status %d", domain.ErrFetch, req.URI().String(), status)
	}
	return string(resp.Body()), nil
}
