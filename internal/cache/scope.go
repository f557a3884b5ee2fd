package cache

// Scope keys name the cached slice a page, event, or subscription belongs to.
// They share a path-like shape so bus subscribers can watch a prefix
// ("messages/" for every thread, "conversations/" for every list).

const (
	conversationsPrefix = "conversations/"
	messagesPrefix      = "messages/"
)

// ConversationsScope returns the scope key for one conversation-kind list.
func ConversationsScope(kind ConversationKind) string {
	return conversationsPrefix + string(kind)
}

// MessagesScope returns the scope key for one conversation's message history.
func MessagesScope(conversationID string) string {
	return messagesPrefix + conversationID
}
