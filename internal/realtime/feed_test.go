package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/huddle-im/huddle/internal/bus"
	"github.com/huddle-im/huddle/internal/status"
	intsync "github.com/huddle-im/huddle/internal/sync"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	envs []intsync.Envelope
}

func (d *recordingDispatcher) Dispatch(env intsync.Envelope) {
	d.mu.Lock()
	d.envs = append(d.envs, env)
	d.mu.Unlock()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envs)
}

var upgrader = websocket.Upgrader{}

// hubServer upgrades one connection and writes the given frames.
func hubServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestFeedDispatchesEnvelopes(t *testing.T) {
	srv := hubServer(t, []string{
		`{"type":"message.sent","payload":{"id":"m1","conversationId":"c1","senderId":"u2"}}`,
		`{"type":"message.read","payload":{"conversationId":"c1","userId":"u1"}}`,
	})
	defer srv.Close()

	d := &recordingDispatcher{}
	m := status.NewMachine(bus.New())
	f := NewFeed(wsURL(srv), d, m, nil)
	f.Start(context.Background())
	defer f.Stop()

	waitFor(t, func() bool { return d.count() == 2 })

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, "message.sent", d.envs[0].Type)
	require.Equal(t, "message.read", d.envs[1].Type)
	require.Equal(t, status.Live, m.Current())
}

func TestFeedSurvivesUndecodableFrame(t *testing.T) {
	srv := hubServer(t, []string{
		`this is not json`,
		`{"type":"conversation.updated","payload":{}}`,
	})
	defer srv.Close()

	d := &recordingDispatcher{}
	f := NewFeed(wsURL(srv), d, status.NewMachine(nil), nil)
	f.Start(context.Background())
	defer f.Stop()

	waitFor(t, func() bool { return d.count() == 1 })
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, "conversation.updated", d.envs[0].Type)
}

func TestFeedStops(t *testing.T) {
	srv := hubServer(t, nil)
	defer srv.Close()

	m := status.NewMachine(nil)
	f := NewFeed(wsURL(srv), &recordingDispatcher{}, m, nil)
	f.Start(context.Background())
	waitFor(t, func() bool { return m.Current() == status.Live })

	f.Stop()
	require.Equal(t, status.Stopped, m.Current())
}
