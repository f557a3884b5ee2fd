package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/huddle-im/huddle/internal/cache"
	"github.com/stretchr/testify/require"
)

func TestClientFetchMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations/conv-1/messages", r.URL.Path)
		require.Equal(t, "50", r.URL.Query().Get("limit"))
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"id": "m1", "conversationId": "conv-1", "senderId": "u2",
				"body": "hello", "kind": "text", "sentAt": 1000,
			}},
			"nextCursor": "c1",
			"hasMore":    true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	page, err := c.FetchMessages(context.Background(), "conv-1", "", 50)
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.Equal(t, "c1", page.NextCursor)
	require.Len(t, page.Items, 1)
	require.Equal(t, "m1", page.Items[0].ID)
	require.Equal(t, cache.DeliverySent, page.Items[0].Delivery)
}

func TestClientSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "hello", body["body"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "srv-1", "conversationId": "conv-1", "senderId": "user-1",
			"body": "hello", "kind": "text", "sentAt": 1000,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	msg, err := c.SendMessage(context.Background(), "conv-1", "hello", cache.ContentText, nil)
	require.NoError(t, err)
	require.Equal(t, "srv-1", msg.ID)
}

func TestClientSendMessageErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.SendMessage(context.Background(), "conv-1", "hello", cache.ContentText, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}
