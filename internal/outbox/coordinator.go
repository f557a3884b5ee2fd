package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huddle-im/huddle/internal/cache"
	"go.uber.org/zap"
)

// DefaultMaxRetries is the ceiling on user-initiated retries of a failed
// send, after which the message stays failed terminally.
const DefaultMaxRetries = 3

var (
	// ErrUnknownSend is returned when a retry targets a local id the
	// coordinator is not tracking.
	ErrUnknownSend = errors.New("unknown send")
	// ErrRetryExhausted is returned once the retry ceiling is reached.
	ErrRetryExhausted = errors.New("retry limit reached")
)

// Sender is the boundary to the write API for outgoing messages.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, body string, kind cache.ContentKind, attachments []cache.Attachment) (*cache.Message, error)
}

// Coordinator owns the optimistic-send lifecycle: it fabricates a provisional
// message synchronously so the UI feels instantaneous, tracks the in-flight
// network call, and reconciles the provisional identity against the
// server-confirmed entity. A failed send is kept visible (state failed, with
// its reason) so the user can retry; the bookkeeping for a send is discarded
// only once it is confirmed.
type Coordinator struct {
	store      *cache.Store
	sender     Sender
	logger     *zap.Logger
	maxRetries int

	mu      sync.Mutex
	pending map[string]*envelope
}

// envelope is the transient bookkeeping for one logical send.
type envelope struct {
	localID        string
	conversationID string
	body           string
	kind           cache.ContentKind
	attachments    []cache.Attachment
	retries        int
	failReason     string
}

// Handle lets the caller track completion of one send attempt.
type Handle struct {
	LocalID string
	done    chan error
}

// Wait blocks until the attempt resolves or ctx expires. A non-nil error
// means the message is now in failed state and retryable.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewCoordinator creates a coordinator over the given store and send boundary.
func NewCoordinator(store *cache.Store, sender Sender, logger *zap.Logger, maxRetries int) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Coordinator{
		store:      store,
		sender:     sender,
		logger:     logger,
		maxRetries: maxRetries,
		pending:    make(map[string]*envelope),
	}
}

// Send inserts a provisional message at the head of the conversation's newest
// page and dispatches the network call. The insert happens before Send
// returns, so a flatten issued immediately after already shows the message in
// state sending.
func (c *Coordinator) Send(ctx context.Context, conversationID, body string, kind cache.ContentKind, attachments []cache.Attachment) *Handle {
	env := &envelope{
		localID:        cache.NewLocalID(),
		conversationID: conversationID,
		body:           body,
		kind:           kind,
		attachments:    attachments,
	}

	c.store.InsertLocalMessage(&cache.Message{
		ID:             env.localID,
		ConversationID: conversationID,
		SenderID:       c.store.LocalUserID(),
		Body:           body,
		Kind:           kind,
		SentAt:         time.Now().UnixMilli(),
		Attachments:    attachments,
		Delivery:       cache.DeliverySending,
	})

	c.mu.Lock()
	c.pending[env.localID] = env
	c.mu.Unlock()

	h := &Handle{LocalID: env.localID, done: make(chan error, 1)}
	go c.attempt(ctx, env, h)
	return h
}

// Retry re-dispatches a failed send under the same provisional identity.
func (c *Coordinator) Retry(ctx context.Context, localID string) (*Handle, error) {
	c.mu.Lock()
	env, ok := c.pending[localID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownSend
	}
	if env.retries >= c.maxRetries {
		c.mu.Unlock()
		return nil, ErrRetryExhausted
	}
	env.retries++
	c.mu.Unlock()

	if err := c.store.MarkRetrying(env.conversationID, localID); err != nil {
		return nil, err
	}

	h := &Handle{LocalID: localID, done: make(chan error, 1)}
	go c.attempt(ctx, env, h)
	return h, nil
}

// FailReason returns the recorded failure reason for a tracked send.
func (c *Coordinator) FailReason(localID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env, ok := c.pending[localID]; ok {
		return env.failReason
	}
	return ""
}

func (c *Coordinator) attempt(ctx context.Context, env *envelope, h *Handle) {
	confirmed, err := c.sender.SendMessage(ctx, env.conversationID, env.body, env.kind, env.attachments)
	if err != nil {
		c.logger.Warn("send failed",
			zap.String("local_id", env.localID),
			zap.String("conversation_id", env.conversationID),
			zap.Int("retries", env.retries),
			zap.Error(err))
		c.mu.Lock()
		env.failReason = err.Error()
		c.mu.Unlock()
		if markErr := c.store.MarkFailed(env.conversationID, env.localID, err.Error()); markErr != nil {
			c.logger.Error("failed to mark send failed", zap.Error(markErr), zap.String("local_id", env.localID))
		}
		h.done <- err
		return
	}

	if err := c.store.ReconcileLocal(env.conversationID, env.localID, confirmed); err != nil {
		// The provisional slot is gone, e.g. a refresh replaced the pages
		// mid-flight. The confirmed entity still reaches the cache through
		// the next fetch or its realtime echo.
		c.logger.Warn("reconcile target missing", zap.Error(err), zap.String("local_id", env.localID))
	}

	c.mu.Lock()
	delete(c.pending, env.localID)
	c.mu.Unlock()

	c.logger.Info("message sent",
		zap.String("local_id", env.localID),
		zap.String("server_id", confirmed.ID))
	h.done <- nil
}
