// Package static implements the lightweight HTTP transport using gocolly.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher performs single-page GETs through a Colly collector. It reports
// HTTP-level outcomes (including 4xx/5xx) in the result; the error return
// covers only transport-level failures.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResult, error) {
	var (
		result   scrape.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return scrape.FetchResult{}, err
	}
	if result.URL == "" && fetchErr != nil {
		// Transport-level failure with no HTTP response at all.
		return scrape.FetchResult{}, fmt.Errorf("static fetch: %w", fetchErr)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request scrape.FetchRequest,
	start time.Time,
	result *scrape.FetchResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	// Robots is the politeness gate's concern; the transport stays dumb.
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = scrape.FetchResult{
			URL:        request.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Transport:  scrape.TransportStatic,
			Elapsed:    time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil && r.StatusCode > 0 {
			// An HTTP error status still carries a usable response.
			var body []byte
			if r.Body != nil {
				body = append([]byte(nil), r.Body...)
			}
			finalURL := request.URL
			if r.Request != nil && r.Request.URL != nil {
				finalURL = r.Request.URL.String()
			}
			*result = scrape.FetchResult{
				URL:        request.URL,
				FinalURL:   finalURL,
				StatusCode: r.StatusCode,
				Headers:    cloneHeaders(r.Headers),
				Body:       body,
				Transport:  scrape.TransportStatic,
				Elapsed:    time.Since(start),
			}
		}
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Visit errors for non-2xx statuses too; OnError already captured
		// the response when one exists, so just remember the error here.
		if err != nil && *fetchErr == nil {
			*fetchErr = err
		}
		return nil
	}
}

func copyHeaders(request scrape.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func cloneHeaders(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
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
}
