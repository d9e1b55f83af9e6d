// Package fetcher combines the static and rendered transports behind one
// politeness-aware, retrying Fetcher.
package fetcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/fetcher/detector"
	"github.com/bizharvest/bizharvest/internal/fetcher/static"
	"github.com/bizharvest/bizharvest/internal/metrics"
	"github.com/bizharvest/bizharvest/internal/scrape"
)

// Fetcher routes requests through the lightweight transport first and
// escalates to the rendered transport on demand or on detection. Network
// failures never raise past this boundary; they are encoded in the result's
// status kind so callers can decide per-failure-kind what to do.
type Fetcher struct {
	gate     scrape.Gate
	static   scrape.Fetcher
	rendered scrape.Fetcher
	detect   *detector.Heuristic
	retry    scrape.RetryPolicy
	logger   *zap.Logger
}

// New wires a composite Fetcher. rendered may be nil when headless fetching
// is disabled; render requests then degrade to the static transport.
func New(
	gate scrape.Gate,
	staticTransport scrape.Fetcher,
	renderedTransport scrape.Fetcher,
	detect *detector.Heuristic,
	retry scrape.RetryPolicy,
	logger *zap.Logger,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = scrape.NewExponentialRetryPolicy()
	}
	if detect == nil {
		detect = detector.New(0)
	}
	return &Fetcher{
		gate:     gate,
		static:   staticTransport,
		rendered: renderedTransport,
		detect:   detect,
		retry:    retry,
		logger:   logger,
	}
}

// Fetch retrieves one URL, respecting politeness, retrying transient
// failures with backoff, and never retrying denials.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResult, error) {
	if f.gate != nil && !f.gate.Allowed(ctx, request.URL) {
		return scrape.FetchResult{
			URL:    request.URL,
			Status: scrape.StatusBlocked,
		}, nil
	}
	host := scrape.Host(request.URL)

	var result scrape.FetchResult
	for attempt := 0; ; attempt++ {
		if err := f.waitForSlot(ctx, host); err != nil {
			return scrape.FetchResult{}, err
		}
		res, err := f.fetchOnce(ctx, request)
		if err != nil {
			return scrape.FetchResult{}, err
		}
		result = res

		if !f.shouldRetryResult(result, attempt) {
			break
		}
		f.logger.Debug("retrying transient fetch failure",
			zap.String("url", request.URL),
			zap.String("status", string(result.Status)),
			zap.Int("attempt", attempt))
		if err := sleepWithContext(ctx, f.retry.Backoff(attempt)); err != nil {
			return scrape.FetchResult{}, err
		}
	}

	metrics.ObserveFetch(request.URL, string(result.Transport), string(result.Status), len(result.Body), result.Elapsed)
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResult, error) {
	if request.PreferRendered && f.rendered != nil {
		raw, err := f.rendered.Fetch(ctx, request)
		return f.classify(request, raw, err)
	}

	raw, err := f.static.Fetch(ctx, request)
	res, cerr := f.classify(request, raw, err)
	if cerr != nil {
		return scrape.FetchResult{}, cerr
	}

	if res.Status == scrape.StatusOK && f.rendered != nil &&
		f.detect.ShouldRender(res.StatusCode, res.Body) {
		f.logger.Debug("promoting to rendered transport", zap.String("url", request.URL))
		if err := f.waitForSlot(ctx, scrape.Host(request.URL)); err != nil {
			return scrape.FetchResult{}, err
		}
		rawRendered, rerr := f.rendered.Fetch(ctx, request)
		rendered, cerr := f.classify(request, rawRendered, rerr)
		if cerr == nil && rendered.Status == scrape.StatusOK {
			return rendered, nil
		}
		// Keep the static result when the rendered pass fails; a shell
		// document still beats nothing.
		f.logger.Warn("rendered promotion failed; keeping static result",
			zap.String("url", request.URL), zap.Error(rerr))
	}
	return res, nil
}

// classify maps a transport outcome onto a status kind. Cancellation is the
// only condition allowed to surface as an error.
func (f *Fetcher) classify(request scrape.FetchRequest, raw scrape.FetchResult, err error) (scrape.FetchResult, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return scrape.FetchResult{}, err
		}
		status := scrape.StatusError
		if static.IsTimeout(err) {
			status = scrape.StatusTimeout
		}
		return scrape.FetchResult{
			URL:    request.URL,
			Status: status,
		}, nil
	}

	switch {
	case f.detect.IsCaptcha(raw.Body):
		raw.Status = scrape.StatusCaptcha
	case raw.StatusCode == 429:
		raw.Status = scrape.StatusRateLimited
	case f.detect.IsBlocked(raw.StatusCode, raw.Body):
		raw.Status = scrape.StatusBlocked
	case raw.StatusCode >= 500:
		raw.Status = scrape.StatusError
	case raw.StatusCode >= 400:
		raw.Status = scrape.StatusError
	case len(raw.Body) == 0:
		raw.Status = scrape.StatusError
	default:
		raw.Status = scrape.StatusOK
	}
	return raw, nil
}

func (f *Fetcher) shouldRetryResult(result scrape.FetchResult, attempt int) bool {
	if !f.retry.ShouldRetry(result.Status, attempt) {
		return false
	}
	// Client errors other than 429 are stable; retrying them wastes the
	// host's goodwill.
	if result.Status == scrape.StatusError && result.StatusCode >= 400 && result.StatusCode < 500 {
		return false
	}
	return true
}

func (f *Fetcher) waitForSlot(ctx context.Context, host string) error {
	if f.gate == nil || host == "" {
		return nil
	}
	return f.gate.WaitForSlot(ctx, host)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
