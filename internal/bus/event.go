package bus

import "time"

// Event describes a change to one cached scope.
type Event struct {
	// Scope is the cache slice the change belongs to, e.g. "messages/conv-1"
	// or "conversations/group".
	Scope     string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Change kinds published by the cache and its writers.
const (
	KindPageAppended      = "page.appended"
	KindPagesReplaced     = "pages.replaced"
	KindMessageInserted   = "message.inserted"
	KindMessageReconciled = "message.reconciled"
	KindMessageUpdated    = "message.updated"
	KindMessageFailed     = "message.failed"
	KindConversationMeta  = "conversation.meta"
	KindUnreadChanged     = "unread.changed"
	KindStaleHint         = "stale.hint"
	KindFeedStatus        = "feed.status"
)
