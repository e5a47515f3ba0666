package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiServer(t *testing.T, handlers map[string]http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range handlers {
		mux.HandleFunc("/"+path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient("xoxb-test").WithBaseURL(srv.URL)
}

func TestClientSearch(t *testing.T) {
	var gotQuery string
	client := apiServer(t, map[string]http.HandlerFunc{
		"search.messages": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
			gotQuery = r.URL.Query().Get("query")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"messages": map[string]any{
					"matches": []map[string]any{
						{
							"ts":        "1724900000.000100",
							"text":      "release blocker KAH-1",
							"user":      "U123",
							"permalink": "https://acme.slack.com/archives/C024/p1724900000000100",
							"channel":   map[string]string{"id": "C024"},
						},
					},
				},
			})
		},
	})

	window := SearchWindow{ChannelID: "C024", Date: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)}
	msgs, err := client.Search(context.Background(), "blocker", window)
	require.NoError(t, err)

	assert.Equal(t, "blocker in:<#C024> after:2026-08-27 before:2026-08-29", gotQuery)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1724900000.000100", msgs[0].ID)
	assert.Equal(t, "C024", msgs[0].ChannelID)
	assert.Equal(t, "U123", msgs[0].Author)
	assert.Equal(t, time.Unix(1724900000, 0).UTC(), msgs[0].Timestamp)
}

func TestClientAPIError(t *testing.T) {
	client := apiServer(t, map[string]http.HandlerFunc{
		"search.messages": func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "ratelimited"})
		},
	})

	_, err := client.Search(context.Background(), "blocker", SearchWindow{ChannelID: "C024", Date: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimited")
}

func TestClientGetThreadRepliesExcludesRoot(t *testing.T) {
	client := apiServer(t, map[string]http.HandlerFunc{
		"conversations.replies": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1724900000.000100", r.URL.Query().Get("ts"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"messages": []map[string]any{
					{"ts": "1724900000.000100", "text": "root", "thread_ts": "1724900000.000100", "reply_count": 1},
					{"ts": "1724900060.000200", "text": "fixed", "thread_ts": "1724900000.000100", "bot_id": ""},
				},
			})
		},
	})

	msgs, err := client.GetThreadReplies(context.Background(), "C024", "1724900000.000100")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1724900060.000200", msgs[0].ID)
	assert.Equal(t, "1724900000.000100", msgs[0].ThreadRootID)
}

func TestClientGetMessage(t *testing.T) {
	client := apiServer(t, map[string]http.HandlerFunc{
		"conversations.history": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, q.Get("latest"), q.Get("oldest"))
			assert.Equal(t, "true", q.Get("inclusive"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":       true,
				"messages": []map[string]any{{"ts": "1724900000.000100", "text": "root message"}},
			})
		},
	})

	msg, err := client.GetMessage(context.Background(), "C024", "1724900000.000100")
	require.NoError(t, err)
	assert.Equal(t, "root message", msg.Text)
	// A thread root never points at itself.
	assert.Empty(t, msg.ThreadRootID)
}

func TestClientGetMessageNotFound(t *testing.T) {
	client := apiServer(t, map[string]http.HandlerFunc{
		"conversations.history": func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": []any{}})
		},
	})

	_, err := client.GetMessage(context.Background(), "C024", "1724900000.000100")
	assert.ErrorContains(t, err, "not found")
}

func TestClientResolveChannelCaches(t *testing.T) {
	var listCalls atomic.Int32
	client := apiServer(t, map[string]http.HandlerFunc{
		"conversations.list": func(w http.ResponseWriter, _ *http.Request) {
			listCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"channels": []map[string]string{
					{"id": "C024", "name": "release-room"},
					{"id": "C025", "name": "general"},
				},
			})
		},
	})
	ctx := context.Background()

	id, err := client.ResolveChannel(ctx, "#release-room")
	require.NoError(t, err)
	assert.Equal(t, "C024", id)

	// The listing populated every channel; further lookups are cache hits.
	id, err = client.ResolveChannel(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "C025", id)
	assert.Equal(t, int32(1), listCalls.Load())

	_, err = client.ResolveChannel(ctx, "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestTsToTime(t *testing.T) {
	assert.Equal(t, time.Unix(1717029203, 0).UTC(), tsToTime("1717029203.000100"))
	assert.True(t, tsToTime("garbage").IsZero())
	assert.True(t, tsToTime("").IsZero())
}
