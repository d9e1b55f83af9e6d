package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bizharvest-bot/0.1", r.Header.Get("User-Agent"))
		require.Equal(t, "en-US", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer ts.Close()

	f := New(Config{UserAgent: "bizharvest-bot/0.1", Timeout: 5 * time.Second})
	res, err := f.Fetch(context.Background(), scrape.FetchRequest{
		URL:     ts.URL + "/page",
		Headers: http.Header{"Accept-Language": []string{"en-US"}},
	})
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, scrape.TransportStatic, res.Transport)
	require.Contains(t, string(res.Body), "ok")
	require.Equal(t, "text/html", res.Headers.Get("Content-Type"))
	require.Positive(t, res.Elapsed)
}

func TestFetchReportsHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer ts.Close()

	f := New(Config{Timeout: 5 * time.Second})
	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: ts.URL})
	require.NoError(t, err, "HTTP errors are results, not transport failures")
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	require.Contains(t, string(res.Body), "slow down")
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("landed"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := New(Config{Timeout: 5 * time.Second})
	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: ts.URL + "/old"})
	require.NoError(t, err)
	require.Equal(t, ts.URL+"/old", res.URL)
	require.Equal(t, ts.URL+"/new", res.FinalURL)
	require.Contains(t, string(res.Body), "landed")
}

func TestFetchTransportFailure(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: ts.URL})
	require.Error(t, err)
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	require.True(t, IsTimeout(context.DeadlineExceeded))
	require.False(t, IsTimeout(context.Canceled))
	require.False(t, IsTimeout(nil))
}
