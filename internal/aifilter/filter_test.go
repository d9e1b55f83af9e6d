package aifilter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

func chatResponse(content string) string {
	return `{"id":"chatcmpl-test","object":"chat.completion","created":1,"model":"gpt-4o-mini",` +
		`"choices":[{"index":0,"message":{"role":"assistant","content":` + content + `},"finish_reason":"stop"}]}`
}

func testEntities() []scrape.NormalizedEntity {
	return []scrape.NormalizedEntity{
		{ID: "id-a", Fields: map[string]string{scrape.FieldName: "Blue Fin Sushi"}},
		{ID: "id-b", Fields: map[string]string{scrape.FieldName: "Corner Hardware"}},
	}
}

func TestFilterKeepsSelectedEntities(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`"[\"id-a\"]"`)))
	}))
	defer server.Close()

	f := New("test-key", "gpt-4o-mini", zap.NewNop(), WithBaseURL(server.URL))
	filtered, err := f.Filter(context.Background(), "sushi restaurants", testEntities())
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, scrape.EntityID("id-a"), filtered[0].ID)
}

func TestFilterToleratesCodeFences(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`"` + "```json\\n[\\\"id-b\\\"]\\n```" + `"`)))
	}))
	defer server.Close()

	f := New("test-key", "gpt-4o-mini", zap.NewNop(), WithBaseURL(server.URL))
	filtered, err := f.Filter(context.Background(), "hardware stores", testEntities())
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, scrape.EntityID("id-b"), filtered[0].ID)
}

func TestFilterReturnsErrorOnBadResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`"not json at all"`)))
	}))
	defer server.Close()

	f := New("test-key", "gpt-4o-mini", zap.NewNop(), WithBaseURL(server.URL))
	_, err := f.Filter(context.Background(), "anything", testEntities())
	require.Error(t, err)
}

func TestFilterSkipsEmptyInstruction(t *testing.T) {
	t.Parallel()

	f := New("test-key", "gpt-4o-mini", zap.NewNop())
	entities := testEntities()
	filtered, err := f.Filter(context.Background(), "  ", entities)
	require.NoError(t, err)
	require.Equal(t, entities, filtered)
}

func TestParseIDList(t *testing.T) {
	t.Parallel()

	keep, err := parseIDList("[\"a\", \"b\"]")
	require.NoError(t, err)
	require.Contains(t, keep, scrape.EntityID("a"))
	require.Contains(t, keep, scrape.EntityID("b"))

	_, err = parseIDList("{\"ids\": []}")
	require.Error(t, err)
}
