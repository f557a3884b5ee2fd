// Package realtime keeps a websocket connection to the hub and forwards
// decoded event envelopes to the reducer. It owns nothing but the link:
// ordering, idempotency and merge rules all live behind the dispatcher.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/huddle-im/huddle/internal/status"
	intsync "github.com/huddle-im/huddle/internal/sync"
	"go.uber.org/zap"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Dispatcher consumes decoded hub envelopes.
type Dispatcher interface {
	Dispatch(env intsync.Envelope)
}

// Feed maintains the hub connection and pumps envelopes to the dispatcher,
// reconnecting with capped exponential backoff.
type Feed struct {
	url        string
	dispatcher Dispatcher
	machine    *status.Machine
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewFeed creates a feed for the given hub URL.
func NewFeed(url string, dispatcher Dispatcher, machine *status.Machine, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		url:        url,
		dispatcher: dispatcher,
		machine:    machine,
		logger:     logger,
	}
}

// Start connects in the background and keeps the feed alive until Stop.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.run(ctx)
}

// Stop tears the connection down.
func (f *Feed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	_ = f.machine.Transition(status.Stopped)
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	delay := reconnectBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}
		_ = f.machine.Transition(status.Connecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.logger.Warn("hub dial failed", zap.Error(err), zap.Duration("retry_in", delay))
			_ = f.machine.Transition(status.Reconnecting)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		delay = reconnectBaseDelay
		_ = f.machine.Transition(status.Live)
		f.logger.Info("hub connected", zap.String("url", f.url))

		f.pump(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("hub connection lost, reconnecting")
		_ = f.machine.Transition(status.Reconnecting)
	}
}

// pump reads frames until the connection drops or ctx is cancelled.
func (f *Feed) pump(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env intsync.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// One malformed frame must not kill the live connection.
			f.logger.Warn("dropping undecodable hub frame", zap.Error(err))
			continue
		}
		f.dispatcher.Dispatch(env)
	}
}
