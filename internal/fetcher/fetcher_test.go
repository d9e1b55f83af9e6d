package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/fetcher/detector"
	"github.com/bizharvest/bizharvest/internal/scrape"
)

type scriptedTransport struct {
	results []scrape.FetchResult
	errs    []error
	calls   int
}

func (s *scriptedTransport) Fetch(_ context.Context, req scrape.FetchRequest) (scrape.FetchResult, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	res := s.results[i]
	if res.URL == "" {
		res.URL = req.URL
		res.FinalURL = req.URL
	}
	return res, err
}

type recordingGate struct {
	allowed bool
	waits   int
}

func (g *recordingGate) Allowed(context.Context, string) bool { return g.allowed }

func (g *recordingGate) WaitForSlot(context.Context, string) error {
	g.waits++
	return nil
}

func okResult(body string) scrape.FetchResult {
	return scrape.FetchResult{
		StatusCode: 200,
		Body:       []byte(body),
		Transport:  scrape.TransportStatic,
	}
}

func noRetry() scrape.RetryPolicy {
	return scrape.NewRetryPolicy(1, time.Millisecond, time.Millisecond)
}

func TestFetchBlockedByRobots(t *testing.T) {
	t.Parallel()

	gate := &recordingGate{allowed: false}
	static := &scriptedTransport{results: []scrape.FetchResult{okResult("hi")}}
	f := New(gate, static, nil, nil, noRetry(), zap.NewNop())

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x"})
	require.NoError(t, err)
	require.Equal(t, scrape.StatusBlocked, res.Status)
	require.Zero(t, static.calls, "a robots denial must not hit the network")
}

func TestFetchClassifiesStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		result scrape.FetchResult
		want   scrape.StatusKind
	}{
		{"ok", okResult("<html>fine</html>"), scrape.StatusOK},
		{"captcha body", scrape.FetchResult{StatusCode: 200, Body: []byte(`<div class="g-recaptcha">`)}, scrape.StatusCaptcha},
		{"rate limited", scrape.FetchResult{StatusCode: 429, Body: []byte("slow down")}, scrape.StatusRateLimited},
		{"forbidden", scrape.FetchResult{StatusCode: 403, Body: []byte("nope")}, scrape.StatusBlocked},
		{"not found", scrape.FetchResult{StatusCode: 404, Body: []byte("gone")}, scrape.StatusError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			static := &scriptedTransport{results: []scrape.FetchResult{tc.result}}
			f := New(&recordingGate{allowed: true}, static, nil, nil, noRetry(), zap.NewNop())

			res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x"})
			require.NoError(t, err)
			require.Equal(t, tc.want, res.Status)
		})
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	static := &scriptedTransport{results: []scrape.FetchResult{
		{StatusCode: 500, Body: []byte("boom")},
		okResult("<html>recovered</html>"),
	}}
	f := New(&recordingGate{allowed: true}, static, nil, nil,
		scrape.NewRetryPolicy(3, time.Millisecond, 2*time.Millisecond), zap.NewNop())

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x"})
	require.NoError(t, err)
	require.Equal(t, scrape.StatusOK, res.Status)
	require.Equal(t, 2, static.calls)
}

func TestFetchNeverRetriesStableClientErrors(t *testing.T) {
	t.Parallel()

	static := &scriptedTransport{results: []scrape.FetchResult{
		{StatusCode: 404, Body: []byte("gone")},
	}}
	f := New(&recordingGate{allowed: true}, static, nil, nil,
		scrape.NewRetryPolicy(3, time.Millisecond, 2*time.Millisecond), zap.NewNop())

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x"})
	require.NoError(t, err)
	require.Equal(t, scrape.StatusError, res.Status)
	require.Equal(t, 1, static.calls)
}

func TestFetchPromotesShellPagesToRendered(t *testing.T) {
	t.Parallel()

	shell := scrape.FetchResult{
		StatusCode: 200,
		Body:       []byte(`<html><body><div id="root"></div></body></html>`),
		Transport:  scrape.TransportStatic,
	}
	hydrated := scrape.FetchResult{
		StatusCode: 200,
		Body:       []byte(`<html><body><h1>Blue Fin Sushi</h1></body></html>`),
		Transport:  scrape.TransportRendered,
	}
	static := &scriptedTransport{results: []scrape.FetchResult{shell}}
	rendered := &scriptedTransport{results: []scrape.FetchResult{hydrated}}
	gate := &recordingGate{allowed: true}
	f := New(gate, static, rendered, detector.New(0), noRetry(), zap.NewNop())

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x"})
	require.NoError(t, err)
	require.Equal(t, scrape.StatusOK, res.Status)
	require.Equal(t, scrape.TransportRendered, res.Transport)
	require.Equal(t, 1, static.calls)
	require.Equal(t, 1, rendered.calls)
	require.Equal(t, 2, gate.waits, "the rendered pass takes its own politeness slot")
}

func TestFetchKeepsStaticResultWhenPromotionFails(t *testing.T) {
	t.Parallel()

	shell := scrape.FetchResult{
		StatusCode: 200,
		Body:       []byte(`<html><body><div id="root"></div></body></html>`),
		Transport:  scrape.TransportStatic,
	}
	static := &scriptedTransport{results: []scrape.FetchResult{shell}}
	rendered := &scriptedTransport{
		results: []scrape.FetchResult{{}},
		errs:    []error{context.DeadlineExceeded},
	}
	f := New(&recordingGate{allowed: true}, static, rendered, detector.New(0), noRetry(), zap.NewNop())

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x"})
	require.NoError(t, err)
	require.Equal(t, scrape.StatusOK, res.Status)
	require.Equal(t, scrape.TransportStatic, res.Transport)
}

func TestFetchPreferRenderedSkipsStatic(t *testing.T) {
	t.Parallel()

	static := &scriptedTransport{results: []scrape.FetchResult{okResult("static")}}
	rendered := &scriptedTransport{results: []scrape.FetchResult{{
		StatusCode: 200,
		Body:       []byte("<html>rendered</html>"),
		Transport:  scrape.TransportRendered,
	}}}
	f := New(&recordingGate{allowed: true}, static, rendered, nil, noRetry(), zap.NewNop())

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x", PreferRendered: true})
	require.NoError(t, err)
	require.Equal(t, scrape.TransportRendered, res.Transport)
	require.Zero(t, static.calls)
}

func TestFetchTimeoutErrorBecomesTimeoutStatus(t *testing.T) {
	t.Parallel()

	static := &scriptedTransport{
		results: []scrape.FetchResult{{}},
		errs:    []error{context.DeadlineExceeded},
	}
	f := New(&recordingGate{allowed: true}, static, nil, nil, noRetry(), zap.NewNop())

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com/x"})
	require.NoError(t, err)
	require.Equal(t, scrape.StatusTimeout, res.Status)
}
