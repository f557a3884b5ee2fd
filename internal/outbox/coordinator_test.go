package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/huddle-im/huddle/internal/cache"
	intsync "github.com/huddle-im/huddle/internal/sync"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	confirm *cache.Message
	err     error
	calls   int
	release chan struct{} // when non-nil, blocks the call until closed
}

func (f *fakeSender) SendMessage(ctx context.Context, conversationID, body string, kind cache.ContentKind, attachments []cache.Attachment) (*cache.Message, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := *f.confirm
	c.ConversationID = conversationID
	c.Body = body
	return &c, nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func testStore(t *testing.T) *cache.Store {
	t.Helper()
	s := cache.NewStore("user-1", nil, nil)
	s.AppendConversationPage(cache.ConversationsScope(cache.KindGroup), &cache.ConversationPage{
		Items: []*cache.Conversation{{ID: "conv-9", Name: "team", Kind: cache.KindGroup}},
	})
	return s
}

func TestSendShowsProvisionalImmediately(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{
		confirm: &cache.Message{ID: "srv-123", SenderID: "user-1", SentAt: 5100},
		release: make(chan struct{}),
	}
	c := NewCoordinator(s, sender, nil, 0)

	h := c.Send(context.Background(), "conv-9", "Hello", cache.ContentText, nil)

	flat := s.FlattenMessages(cache.MessagesScope("conv-9"))
	require.Len(t, flat, 1)
	require.True(t, cache.IsLocalID(flat[0].ID))
	require.Equal(t, cache.DeliverySending, flat[0].Delivery)
	require.Equal(t, "Hello", flat[0].Body)

	close(sender.release)
	require.NoError(t, h.Wait(context.Background()))
}

func TestSendConfirmSwapsIdentity(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{confirm: &cache.Message{ID: "srv-123", SenderID: "user-1", SentAt: 5100}}
	c := NewCoordinator(s, sender, nil, 0)

	h := c.Send(context.Background(), "conv-9", "Hello", cache.ContentText, nil)
	require.NoError(t, h.Wait(context.Background()))

	flat := s.FlattenMessages(cache.MessagesScope("conv-9"))
	require.Len(t, flat, 1, "swap must never show both identities")
	require.Equal(t, "srv-123", flat[0].ID)
	require.Equal(t, cache.DeliverySent, flat[0].Delivery)

	// Bookkeeping is discarded once reconciled.
	_, err := c.Retry(context.Background(), h.LocalID)
	require.ErrorIs(t, err, ErrUnknownSend)
}

func TestSendFailureRetainsMessage(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{err: errors.New("connection reset")}
	c := NewCoordinator(s, sender, nil, 0)

	h := c.Send(context.Background(), "conv-9", "Hello", cache.ContentText, nil)
	require.Error(t, h.Wait(context.Background()))

	flat := s.FlattenMessages(cache.MessagesScope("conv-9"))
	require.Len(t, flat, 1, "failed sends stay visible")
	require.Equal(t, cache.DeliveryFailed, flat[0].Delivery)
	require.Equal(t, "connection reset", flat[0].FailReason)
	require.Equal(t, "connection reset", c.FailReason(h.LocalID))
}

func TestRetryReusesIdentityUpToCeiling(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{err: errors.New("boom")}
	c := NewCoordinator(s, sender, nil, 3)

	h := c.Send(context.Background(), "conv-9", "Hello", cache.ContentText, nil)
	require.Error(t, h.Wait(context.Background()))
	localID := h.LocalID

	for i := 0; i < 3; i++ {
		rh, err := c.Retry(context.Background(), localID)
		require.NoError(t, err)
		require.Equal(t, localID, rh.LocalID)
		require.Error(t, rh.Wait(context.Background()))
	}

	_, err := c.Retry(context.Background(), localID)
	require.ErrorIs(t, err, ErrRetryExhausted)

	flat := s.FlattenMessages(cache.MessagesScope("conv-9"))
	require.Len(t, flat, 1)
	require.Equal(t, localID, flat[0].ID)
	require.Equal(t, cache.DeliveryFailed, flat[0].Delivery)
}

func TestRetrySucceedsAfterFailure(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{err: errors.New("boom"), confirm: &cache.Message{ID: "srv-5", SenderID: "user-1", SentAt: 100}}
	c := NewCoordinator(s, sender, nil, 3)

	h := c.Send(context.Background(), "conv-9", "Hello", cache.ContentText, nil)
	require.Error(t, h.Wait(context.Background()))

	sender.setErr(nil)
	rh, err := c.Retry(context.Background(), h.LocalID)
	require.NoError(t, err)
	require.NoError(t, rh.Wait(context.Background()))

	flat := s.FlattenMessages(cache.MessagesScope("conv-9"))
	require.Len(t, flat, 1)
	require.Equal(t, "srv-5", flat[0].ID)
}

// A realtime echo of the user's own send arriving while the optimistic copy
// is still in flight must not materialize a second entry, and neither must
// the echo arriving after confirmation.
func TestNoDuplicateFromRealtimeEcho(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{
		confirm: &cache.Message{ID: "srv-777", SenderID: "user-1", SentAt: time.Now().UnixMilli()},
		release: make(chan struct{}),
	}
	c := NewCoordinator(s, sender, nil, 0)
	r := intsync.NewReducer(s, nil)

	h := c.Send(context.Background(), "conv-9", "Hello", cache.ContentText, nil)

	// Echo lands before the HTTP confirmation resolves.
	r.ApplyMessageSent(&cache.Message{
		ID: "srv-777", ConversationID: "conv-9", SenderID: "user-1",
		Body: "Hello", Kind: cache.ContentText,
		SentAt: time.Now().UnixMilli(), Delivery: cache.DeliverySent,
	})
	require.Len(t, s.FlattenMessages(cache.MessagesScope("conv-9")), 1)

	close(sender.release)
	require.NoError(t, h.Wait(context.Background()))

	// Echo redelivered after the swap is a duplicate by identity.
	r.ApplyMessageSent(&cache.Message{
		ID: "srv-777", ConversationID: "conv-9", SenderID: "user-1",
		Body: "Hello", Kind: cache.ContentText,
		SentAt: time.Now().UnixMilli(), Delivery: cache.DeliverySent,
	})

	flat := s.FlattenMessages(cache.MessagesScope("conv-9"))
	require.Len(t, flat, 1)
	require.Equal(t, "srv-777", flat[0].ID)
}
