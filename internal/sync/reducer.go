package sync

import (
	"time"

	"github.com/huddle-im/huddle/internal/cache"
	"github.com/huddle-im/huddle/internal/unread"
	"go.uber.org/zap"
)

// Reducer applies inbound realtime events onto the cache store. It owns the
// ingress normalization boundary, so the rest of the core never sees hub
// wire quirks. All anomalies on this path are absorbed: a malformed or
// unresolvable event is logged and dropped, never surfaced to consumers.
type Reducer struct {
	store  *cache.Store
	logger *zap.Logger
}

// NewReducer creates a reducer over the given store.
func NewReducer(store *cache.Store, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{store: store, logger: logger}
}

// Dispatch normalizes one hub envelope and applies it.
func (r *Reducer) Dispatch(env Envelope) {
	switch canonicalType(env.Type) {
	case TypeMessageSent:
		m, err := normalizeMessageSent(env.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed message.sent event", zap.Error(err))
			return
		}
		r.ApplyMessageSent(m)
	case TypeMessageRead:
		conversationID, userID, err := normalizeMessageRead(env.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed message.read event", zap.Error(err))
			return
		}
		r.ApplyMessageRead(conversationID, userID)
	case TypeConversationUpdated:
		r.ApplyConversationUpdated()
	default:
		r.logger.Debug("ignoring unknown realtime event", zap.String("type", env.Type))
	}
}

// ApplyMessageSent merges a delivered message into its conversation. Delivery
// is at-least-once, so a duplicate identity is the expected steady-state case
// and a no-op. An echo of the local user's own in-flight send is dropped in
// favor of the coordinator's confirmation path.
func (r *Reducer) ApplyMessageSent(m *cache.Message) {
	switch r.store.InsertIncomingMessage(m) {
	case cache.OutcomeUnknownConversation:
		// Not materialized in this client's cache; the next full list fetch
		// carries the authoritative state.
		r.logger.Debug("message for uncached conversation",
			zap.String("conversation_id", m.ConversationID), zap.String("msg_id", m.ID))
		return
	case cache.OutcomeDuplicate:
		r.logger.Debug("duplicate delivery", zap.String("msg_id", m.ID))
		return
	case cache.OutcomeEchoSuppressed:
		r.logger.Debug("suppressed echo of own pending send", zap.String("msg_id", m.ID))
		return
	}

	// Events on one channel arrive in server-emission order per conversation,
	// so the latest event always wins the summary slot.
	r.store.SetLastMessage(m.ConversationID, m.Summary())

	conv := r.store.Conversation(m.ConversationID)
	if unread.ShouldIncrement(conv, m.SenderID, r.store.Active(), r.store.LocalUserID()) {
		r.store.IncrementUnread(m.ConversationID)
	}
}

// ApplyMessageRead resets a conversation's unread counter. The hub only
// routes the local user's own receipts to this client; userID is carried on
// the wire for forward compatibility.
func (r *Reducer) ApplyMessageRead(conversationID, userID string) {
	r.store.ClearUnread(conversationID)
}

// ApplyConversationUpdated handles the hub's generic no-payload change
// signal. It is a low-confidence hint: refetching or invalidating here would
// erase unread counters the specific handlers track more precisely, so the
// cache only records staleness for views to act on lazily.
func (r *Reducer) ApplyConversationUpdated() {
	r.store.MarkAllConversationsStale(time.Now().UnixMilli())
}
